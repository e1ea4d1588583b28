package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/brbranch/parmira/internal/indexer"
)

func (a *app) indexCmd() *cobra.Command {
	var (
		every  time.Duration
		format string
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index files under indexer.roots into the system database",
		Long: `index walks indexer.roots and records every file in the system database
queried by the SYSTEM_SQLITE tool. With --every it keeps re-indexing until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := setupSignalHandler(cmd.Context())
			defer cancel()

			services, cleanup, err := a.services(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			ix, err := services.OpenIndexer(ctx)
			if err != nil {
				return err
			}
			if every > 0 {
				return ix.RunPeriodic(ctx, every)
			}

			summary, err := ix.IndexSystem(ctx)
			if err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), format, summary,
				fmt.Sprintf("indexed %d files (%d updated, %d removed, %d appended to history) in %s",
					summary.Seen, summary.Upserted, summary.Removed, summary.Appended,
					summary.Duration.Round(time.Millisecond)))
		},
	}
	cmd.PersistentFlags().StringVarP(&format, "format", "f", formatText, "output format: text, json")
	cmd.Flags().DurationVar(&every, "every", 0, "re-index at this interval until interrupted (e.g. 60m)")

	var limit int
	search := &cobra.Command{
		Use:   "search <name>",
		Short: "Find indexed files whose name contains the text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			services, cleanup, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			ix, err := services.OpenIndexer(cmd.Context())
			if err != nil {
				return err
			}
			files, err := ix.SearchByName(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			return writeFiles(cmd.OutOrStdout(), format, files)
		},
	}
	search.Flags().IntVarP(&limit, "limit", "n", indexer.DefaultLimit, "maximum number of files")

	recent := &cobra.Command{
		Use:   "recent",
		Short: "List the most recently modified indexed files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, cleanup, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			ix, err := services.OpenIndexer(cmd.Context())
			if err != nil {
				return err
			}
			files, err := ix.ListRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeFiles(cmd.OutOrStdout(), format, files)
		},
	}
	recent.Flags().IntVarP(&limit, "limit", "n", indexer.DefaultLimit, "maximum number of files")

	cmd.AddCommand(search, recent)
	return cmd
}

func writeFiles(w io.Writer, format string, files []indexer.File) error {
	if format == formatJSON {
		return writeJSON(w, map[string]any{"files": files})
	}
	if len(files) == 0 {
		fmt.Fprintln(w, "No files found.")
		return nil
	}
	for _, f := range files {
		fmt.Fprintf(w, "%s  %8d  %s\n", f.LastModified.Local().Format(time.DateTime), f.Size, f.Path)
	}
	return nil
}
