package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quiver-search/quiver/internal/index"
)

func newInitCmd() *cobra.Command {
	var withANNIndex bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database schema and index artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			if err := app.store.EnsureSchema(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema ready")

			if withANNIndex {
				pg, ok := app.index.(*index.PGVectorIndex)
				if !ok {
					return fmt.Errorf("--ann-index only applies to the pgvector backend")
				}
				// Runs CONCURRENTLY, so it must stay outside any transaction.
				if err := pg.EnsureANNIndex(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ANN index ready")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withANNIndex, "ann-index", false,
		"Also build the pgvector HNSW index on the embedding column")
	return cmd
}
