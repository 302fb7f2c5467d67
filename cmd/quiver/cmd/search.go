package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quiver-search/quiver/internal/search"
)

func newSearchCmd() *cobra.Command {
	var (
		topK   int
		hybrid bool
		rerank bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Search ingested documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			ctx := cmd.Context()
			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			results, err := app.engine.Search(ctx, query, search.Options{
				TopK:   topK,
				Hybrid: hybrid,
				Rerank: rerank,
			})
			if err != nil {
				return err
			}

			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no results")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. [%.4f] %s (doc %s, chunk %d)\n",
					i+1, r.Score, r.Title, r.DocID, r.ChunkID)
				fmt.Fprintf(cmd.OutOrStdout(), "   %s\n", r.Snippet)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (default from config)")
	cmd.Flags().BoolVar(&hybrid, "hybrid", true, "Combine vector and lexical channels")
	cmd.Flags().BoolVar(&rerank, "rerank", false, "Rerank candidates with the configured cross-encoder")
	return cmd
}
