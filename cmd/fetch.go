package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tiered-crawler/internal/crawler"
	"github.com/JakeFAU/tiered-crawler/internal/worker"
)

type fetchOptions struct {
	browser bool
	pretty  bool
}

// newFetchCmd creates the 'fetch' subcommand. It writes one JSON result per
// URL to stdout, in argument order.
func newFetchCmd() *cobra.Command {
	var opts fetchOptions
	cmd := &cobra.Command{
		Use:   "fetch URL [URL...]",
		Short: "Fetch URLs through the tiers and print JSON results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.browser, "browser", false, "skip the API and HTTP tiers and render directly")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "indent JSON output")
	return cmd
}

type fetchOutput struct {
	crawler.FetchResult
	Rejected string `json:"rejected,omitempty"`
}

func runFetch(cmd *cobra.Command, urls []string, opts fetchOptions) error {
	state, err := resolveState(cmd.Context())
	if err != nil {
		return err
	}
	logger := state.app.Logger()

	var items []worker.Item
	if opts.browser {
		items = make([]worker.Item, 0, len(urls))
		for _, rawURL := range urls {
			res, err := state.app.Fetcher().FetchBrowser(cmd.Context(), rawURL)
			items = append(items, worker.Item{Result: res, Err: err})
		}
	} else {
		items, err = state.app.Pool().FetchAll(cmd.Context(), urls)
		if err != nil {
			logger.Warn("batch interrupted", zap.Error(err))
		}
	}

	if err := writeResults(cmd.OutOrStdout(), urls, items, opts.pretty); err != nil {
		return err
	}
	if err := cmd.Context().Err(); err != nil {
		return fmt.Errorf("fetch interrupted: %w", err)
	}
	return nil
}

func writeResults(w io.Writer, urls []string, items []worker.Item, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	for i, item := range items {
		out := fetchOutput{FetchResult: item.Result}
		if out.URL == "" {
			out.URL = urls[i]
		}
		if out.Links == nil {
			out.Links = []string{}
		}
		if item.Err != nil {
			out.Rejected = item.Err.Error()
		}
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	return nil
}
