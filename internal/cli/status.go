package cli

import (
	stdcontext "context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/Paintersrp/minicars/internal/probe"
)

const defaultStatusTimeout = 2 * time.Second

func newStatusCmd(ctx *context) *cobra.Command {
	var (
		baseURL string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query the running backend's health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				cfg, err := ctx.loadConfig()
				if err != nil {
					return err
				}
				baseURL = cfg.BaseURL()
			}
			url := strings.TrimRight(baseURL, "/") + "/health"

			reqCtx, cancel := stdcontext.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				if portOpen(cmd.Context(), req.URL.Host, timeout) {
					return fmt.Errorf("backend unreachable at %s (port open, request failed): %w", url, err)
				}
				return fmt.Errorf("backend unreachable at %s (nothing listening): %w", url, err)
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return fmt.Errorf("read health response: %w", err)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("backend unhealthy at %s: HTTP %d", url, resp.StatusCode)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "url:     %s\n", url)
			for _, field := range []string{"status", "service", "env"} {
				value := gjson.GetBytes(body, field)
				text := "-"
				if value.Exists() {
					text = value.String()
				}
				fmt.Fprintf(out, "%-8s %s\n", field+":", text)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "Backend base URL (defaults to the configured port)")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultStatusTimeout, "Request timeout")
	return cmd
}

// portOpen reports whether anything accepts TCP connections at address.
func portOpen(ctx stdcontext.Context, address string, timeout time.Duration) bool {
	prober, err := probe.NewTCP(address)
	if err != nil {
		return false
	}
	dialCtx, cancel := stdcontext.WithTimeout(ctx, timeout)
	defer cancel()
	return prober.Probe(dialCtx) == nil
}
