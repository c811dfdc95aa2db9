package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"catalogd/pkg/apperr"
)

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return apperr.BadRequest("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return apperr.BadRequest("invalid request body: %v", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError maps the error kind to a status code and renders the typed
// error body. Internal causes never reach the client.
func respondError(w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, apperr.HTTPStatus(err), map[string]any{
		"error": map[string]any{
			"type":    string(apperr.KindOf(err)),
			"message": apperr.Public(err),
		},
	})
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}

// parseListFilter reads the list query parameters. Sort validation happens in
// the repositories via the column whitelist.
func parseListFilter(r *http.Request) (ListFilter, error) {
	q := r.URL.Query()

	filter := ListFilter{
		Query:     strings.TrimSpace(q.Get("query")),
		Type:      strings.TrimSpace(q.Get("type")),
		SortBy:    strings.ToLower(strings.TrimSpace(q.Get("sort_by"))),
		SortOrder: strings.ToLower(strings.TrimSpace(q.Get("sort_order"))),
	}

	if raw := q.Get("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return ListFilter{}, apperr.BadRequest("invalid enabled value %q", raw)
		}
		filter.Enabled = &enabled
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return ListFilter{}, apperr.BadRequest("invalid limit value %q", raw)
		}
		filter.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return ListFilter{}, apperr.BadRequest("invalid offset value %q", raw)
		}
		filter.Offset = offset
	}

	return filter, nil
}
