package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"catalogd/services/bundler"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "catalogctl",
		Short:         "Utility for managing catalogd artifacts and bundles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newBundlesCommand())
	cmd.AddCommand(newInstallCommand())
	cmd.AddCommand(newUpgradeCommand())
	cmd.AddCommand(newListCommand())
	return cmd
}

func newBundlesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundles",
		Short: "Bundle build and import operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newBundlesBuildCommand())
	cmd.AddCommand(newBundlesImportCommand())
	return cmd
}

func newBundlesBuildCommand() *cobra.Command {
	var (
		payloadsDir string
		output      string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Create a signed bundle from a payloads directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			signer, err := bundler.NewSignerFromEnv()
			if err != nil {
				return err
			}
			_, err = bundler.Build(ctx, bundler.BuildConfig{
				PayloadsDir: payloadsDir,
				Output:      output,
				Signer:      signer,
				Stdout:      os.Stdout,
			})
			return err
		},
	}

	cmd.Flags().StringVar(&payloadsDir, "payloads-dir", "", "Directory containing payload manifests and content files")
	cmd.Flags().StringVar(&output, "output", "", "Destination bundle file (tar.zst)")
	_ = cmd.MarkFlagRequired("payloads-dir")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newBundlesImportCommand() *cobra.Command {
	var (
		bundleFile string
		apiBaseURL string
		keepDir    string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a signed bundle into a running catalogd",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			signer, err := bundler.NewSignerFromEnv()
			if err != nil {
				return err
			}
			_, err = bundler.Import(ctx, bundler.ImportConfig{
				BundlePath: bundleFile,
				APIBaseURL: apiBaseURL,
				Signer:     signer,
				KeepDir:    keepDir,
				Stdout:     os.Stdout,
			})
			return err
		},
	}

	cmd.Flags().StringVar(&bundleFile, "file", "", "Path to the bundle tar.zst")
	cmd.Flags().StringVar(&apiBaseURL, "api", "", "Base URL of the catalogd API (e.g. http://localhost:8080)")
	cmd.Flags().StringVar(&keepDir, "keep-dir", "", "Extract the bundle here instead of a temp dir (kept after import)")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("api")
	return cmd
}

func newInstallCommand() *cobra.Command {
	var (
		apiBaseURL string
		family     string
	)

	cmd := &cobra.Command{
		Use:   "install <source>",
		Short: "Install an artifact from a registry manifest URL or local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := validateFamily(family); err != nil {
				return err
			}
			body, err := json.Marshal(map[string]string{"source": args[0]})
			if err != nil {
				return err
			}
			var out map[string]json.RawMessage
			path := "/v1/" + family + "/install"
			if err := callAPI(ctx, apiBaseURL, http.MethodPost, path, body, &out); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "installed from %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&apiBaseURL, "api", "", "Base URL of the catalogd API")
	cmd.Flags().StringVar(&family, "family", "definitions", "Artifact family (definitions or modules)")
	_ = cmd.MarkFlagRequired("api")
	return cmd
}

func newUpgradeCommand() *cobra.Command {
	var (
		apiBaseURL string
		family     string
	)

	cmd := &cobra.Command{
		Use:   "upgrade <id>",
		Short: "Upgrade an installed artifact from its recorded source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := validateFamily(family); err != nil {
				return err
			}
			var out map[string]json.RawMessage
			path := "/v1/" + family + "/" + url.PathEscape(args[0]) + "/upgrade"
			if err := callAPI(ctx, apiBaseURL, http.MethodPost, path, nil, &out); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "upgraded %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&apiBaseURL, "api", "", "Base URL of the catalogd API")
	cmd.Flags().StringVar(&family, "family", "definitions", "Artifact family (definitions or modules)")
	_ = cmd.MarkFlagRequired("api")
	return cmd
}

func newListCommand() *cobra.Command {
	var (
		apiBaseURL string
		family     string
		query      string
		kind       string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := validateFamily(family); err != nil {
				return err
			}

			params := url.Values{}
			if query != "" {
				params.Set("query", query)
			}
			if kind != "" {
				params.Set("type", kind)
			}
			path := "/v1/" + family
			if encoded := params.Encode(); encoded != "" {
				path += "?" + encoded
			}

			var out map[string][]listRow
			if err := callAPI(ctx, apiBaseURL, http.MethodGet, path, nil, &out); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tENABLED\tDIGEST")
			for _, row := range out[family] {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", row.ID, row.Name, row.Type, row.Enabled, shortDigest(row.Digest))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&apiBaseURL, "api", "", "Base URL of the catalogd API")
	cmd.Flags().StringVar(&family, "family", "definitions", "Artifact family (definitions or modules)")
	cmd.Flags().StringVar(&query, "query", "", "Free text filter over id, name and description")
	cmd.Flags().StringVar(&kind, "type", "", "Filter by artifact type")
	_ = cmd.MarkFlagRequired("api")
	return cmd
}

type listRow struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
	Digest  string `json:"digest"`
}

func validateFamily(family string) error {
	switch family {
	case "definitions", "modules":
		return nil
	default:
		return fmt.Errorf("unknown family %q (expected definitions or modules)", family)
	}
}

func callAPI(ctx context.Context, baseURL, method, path string, body []byte, out any) error {
	if baseURL == "" {
		return fmt.Errorf("api base url is required")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(baseURL, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func shortDigest(digest string) string {
	if i := strings.Index(digest, ":"); i >= 0 && len(digest) > i+13 {
		return digest[:i+13]
	}
	return digest
}
