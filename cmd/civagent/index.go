package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"civagent/pkg/knowledge"
)

func newIndexCmd(root *rootOptions) *cobra.Command {
	var (
		dir    string
		search string
	)
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the game manual (*.md, *.txt) for manualAndHistorySearch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Knowledge.DBPath == "" {
				return errors.New("knowledge.db_path is not configured")
			}
			if dir == "" {
				dir = cfg.Knowledge.ManualDir
			}

			db, err := knowledge.Open(cfg.Knowledge.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()
			index, err := knowledge.NewManualIndex(db, nil, nil, cfg.Knowledge.TopK)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dir != "" {
				n, err := index.IndexDir(cmd.Context(), dir, cfg.Knowledge.ChunkSize)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "indexed %d chunks from %s\n", n, dir)
			}
			if search != "" {
				docs, err := index.SimilaritySearch(cmd.Context(), search, cfg.Knowledge.TopK)
				if err != nil {
					return err
				}
				for _, d := range docs {
					fmt.Fprintf(out, "%s#%d\n%s\n\n", d.Source, d.Chunk, strings.TrimSpace(d.Content))
				}
			}
			total, err := index.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d chunks in %s\n", total, cfg.Knowledge.DBPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Manual directory (default: knowledge.manual_dir)")
	cmd.Flags().StringVar(&search, "search", "", "Print the best matching chunks for a query")
	return cmd
}
