package source

import (
	"net/url"
	"os"
	"strings"

	"catalogd/pkg/apperr"
)

// Source is a resolved artifact location: either a remote HTTP(S) URL or a
// validated local file path. It is never persisted; catalog rows keep only
// the raw input string.
type Source struct {
	url  string
	path string
}

// Parse resolves input into a Source. Inputs with a scheme separator dispatch
// on the scheme: http/https pass through untouched, file URLs resolve to a
// path, anything else is rejected. Inputs without a separator are treated as
// filesystem paths. File paths must exist and reference a regular file.
func Parse(input string) (Source, error) {
	if strings.Contains(input, "://") {
		return parseURL(input)
	}
	return parsePath(input)
}

func parseURL(input string) (Source, error) {
	u, err := url.Parse(input)
	if err != nil {
		return Source{}, apperr.InvalidSource("invalid source: %q", input)
	}

	switch u.Scheme {
	case "http", "https":
		return Source{url: input}, nil
	case "file":
		if u.Host != "" && u.Host != "localhost" {
			return Source{}, apperr.InvalidSource("cannot convert file URL to path: %q", input)
		}
		return parsePath(u.Path)
	default:
		return Source{}, apperr.UnsupportedScheme(u.Scheme)
	}
}

func parsePath(input string) (Source, error) {
	if strings.TrimSpace(input) == "" {
		return Source{}, apperr.InvalidSource("invalid source: %q", input)
	}

	info, err := os.Stat(input)
	if err != nil {
		if os.IsNotExist(err) {
			return Source{}, apperr.NotFound("file does not exist: %s", input)
		}
		return Source{}, apperr.Internal("stat source path", err)
	}
	if !info.Mode().IsRegular() {
		return Source{}, apperr.BadRequest("path is not a file: %s", input)
	}

	return Source{path: input}, nil
}

// IsHTTP reports whether the source points at a remote URL.
func (s Source) IsHTTP() bool { return s.url != "" }

// URL returns the remote URL, or "" for file sources.
func (s Source) URL() string { return s.url }

// Path returns the local file path, or "" for HTTP sources.
func (s Source) Path() string { return s.path }
