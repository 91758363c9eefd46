package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"civagent/pkg/metrics"
)

func newUsageCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Report token usage and decision outcomes from Prometheus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Metrics.PrometheusURL == "" {
				return errors.New("metrics.prometheus_url is not configured")
			}
			q, err := metrics.NewQueryService(cfg.Metrics.PrometheusURL, cfg.Metrics.Namespace)
			if err != nil {
				return err
			}

			byModel, err := q.GetUsageByModel(cmd.Context())
			if err != nil {
				return err
			}
			total, err := q.GetUsage(cmd.Context())
			if err != nil {
				return err
			}
			outcomes, err := q.GetDecisionOutcomes(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"models": byModel, "total": total, "decisions": outcomes})
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODEL\tREQUESTS\tPROMPT\tCOMPLETION\tTOTAL")
			total.Model = "all"
			for _, u := range append(byModel, total) {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", u.Model, u.Requests, u.PromptTokens, u.CompletionTokens, u.TotalTokens)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			kinds := make([]string, 0, len(outcomes))
			for k := range outcomes {
				kinds = append(kinds, k)
			}
			sort.Strings(kinds)
			for _, k := range kinds {
				fmt.Fprintf(out, "decisions %s: %d\n", k, outcomes[k])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	return cmd
}
