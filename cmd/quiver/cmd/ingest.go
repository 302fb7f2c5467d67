package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quiver-search/quiver/internal/ingest"
)

func newIngestCmd() *cobra.Command {
	var (
		docID     string
		title     string
		metaPairs []string
	)

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest text files as documents",
		Long: `Ingest one or more text files as documents. Pass "-" to read a
single document from stdin, in which case --id is required.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if docID != "" && len(args) > 1 {
				return fmt.Errorf("--id applies to a single file, got %d", len(args))
			}
			if args[0] == "-" {
				if len(args) > 1 {
					return fmt.Errorf("stdin ingestion takes no other files")
				}
				if docID == "" {
					return fmt.Errorf("--id is required when reading from stdin")
				}
			}

			metadata, err := parseMetadata(metaPairs)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			reqs := make([]ingest.Request, 0, len(args))
			for _, path := range args {
				var data []byte
				if path == "-" {
					data, err = io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return fmt.Errorf("read stdin: %w", err)
					}
				} else {
					data, err = os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("read %s: %w", path, err)
					}
				}
				id := docID
				if id == "" {
					id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				}
				docTitle := title
				if docTitle == "" {
					docTitle = id
					if path != "-" {
						docTitle = filepath.Base(path)
					}
				}
				reqs = append(reqs, ingest.Request{
					DocID:    id,
					Title:    docTitle,
					Text:     string(data),
					Metadata: metadata,
				})
			}

			results := app.pipeline.BulkIngest(ctx, reqs)

			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", r.DocID, r.Err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chunks\n", r.DocID, r.Chunks)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&docID, "id", "", "Document id (defaults to the file name without extension)")
	cmd.Flags().StringVar(&title, "title", "", "Document title (defaults to the file name)")
	cmd.Flags().StringArrayVar(&metaPairs, "meta", nil, "Document metadata as key=value (repeatable)")
	return cmd
}

func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q, expected key=value", pair)
		}
		meta[key] = value
	}
	return meta, nil
}
