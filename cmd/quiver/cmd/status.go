package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store and index health and statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "backend:        %s\n", app.cfg.Vector.Backend)
			fmt.Fprintf(out, "embedder:       %s (dim %d)\n",
				app.embedder.ModelName(), app.embedder.Dimensions())
			fmt.Fprintf(out, "store healthy:  %v\n", app.store.Healthy(ctx))
			fmt.Fprintf(out, "index healthy:  %v\n", app.index.Healthy(ctx))

			if docs, err := app.store.DocumentCount(ctx); err == nil {
				fmt.Fprintf(out, "documents:      %d\n", docs)
			}
			if vectors, err := app.index.VectorCount(ctx); err == nil {
				fmt.Fprintf(out, "vectors:        %d\n", vectors)
			}

			if app.stats != nil {
				if sum, err := app.stats.Summarize(24 * time.Hour); err == nil {
					fmt.Fprintf(out, "queries (24h):  %d (avg %.1fms, avg %.1f results, %d empty)\n",
						sum.TotalQueries, sum.AvgDurationMS, sum.AvgResults, sum.ZeroResult)
				}
			}
			return nil
		},
	}
}
