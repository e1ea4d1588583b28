package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/brbranch/parmira/internal/bootstrap"
	"github.com/brbranch/parmira/internal/model"
	"github.com/brbranch/parmira/internal/store"
)

// 出力形式
const (
	formatText = "text"
	formatJSON = "json"
)

// textPreviewLen はテキスト出力で表示する本文の長さ
const textPreviewLen = 60

func (a *app) memoryCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and edit short-term and long-term memory",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if format != formatText && format != formatJSON {
				return fmt.Errorf("invalid format: %s (must be text or json)", format)
			}
			// rootのPersistentPreRunEは子で上書きされるため明示的に呼ぶ
			if root := cmd.Root(); root.PersistentPreRunE != nil {
				return root.PersistentPreRunE(cmd, args)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&format, "format", "f", formatText, "output format: text, json")

	// withMemory は初期化済みのServicesで fn を実行する
	withMemory := func(fn func(ctx context.Context, s *bootstrap.Services, w io.Writer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			services, cleanup, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			return fn(cmd.Context(), services, cmd.OutOrStdout())
		}
	}

	add := &cobra.Command{
		Use:   "add <text>",
		Short: "Store a short-term memory",
		Args:  cobra.MinimumNArgs(1),
	}
	add.RunE = func(cmd *cobra.Command, args []string) error {
		return withMemory(func(ctx context.Context, s *bootstrap.Services, w io.Writer) error {
			id, err := s.Memory.StoreMemory(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return output(w, format, map[string]any{"status": "stored", "id": id},
				fmt.Sprintf("stored memory #%d", id))
		})(cmd, args)
	}

	search := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Search short-term memory by keyword",
		Args:  cobra.MinimumNArgs(1),
	}
	search.RunE = func(cmd *cobra.Command, args []string) error {
		return withMemory(func(ctx context.Context, s *bootstrap.Services, w io.Writer) error {
			memories, err := s.Memory.SearchMemory(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return writeMemories(w, format, memories)
		})(cmd, args)
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List all active short-term memories",
		Args:  cobra.NoArgs,
		RunE: withMemory(func(ctx context.Context, s *bootstrap.Services, w io.Writer) error {
			memories, err := s.Memory.FetchAllMemories(ctx)
			if err != nil {
				return err
			}
			return writeMemories(w, format, memories)
		}),
	}

	tombstone := &cobra.Command{
		Use:   "tombstone <id>",
		Short: "Hide a short-term memory from search",
		Args:  cobra.ExactArgs(1),
	}
	tombstone.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid memory id %q: %w", args[0], err)
		}
		return withMemory(func(ctx context.Context, s *bootstrap.Services, w io.Writer) error {
			if err := s.Memory.TombstoneMemory(ctx, id); err != nil {
				return err
			}
			return output(w, format, map[string]any{"status": "tombstoned", "id": id},
				fmt.Sprintf("tombstoned memory #%d", id))
		})(cmd, args)
	}

	var source string
	ltmAdd := &cobra.Command{
		Use:   "ltm-add <text>",
		Short: "Store a long-term (semantic) memory",
		Args:  cobra.MinimumNArgs(1),
	}
	ltmAdd.Flags().StringVar(&source, "source", "cli", "metadata source value")
	ltmAdd.RunE = func(cmd *cobra.Command, args []string) error {
		return withMemory(func(ctx context.Context, s *bootstrap.Services, w io.Writer) error {
			id, err := s.Memory.StoreLTMMemory(ctx, strings.Join(args, " "), map[string]string{"source": source})
			if err != nil {
				return err
			}
			return output(w, format, map[string]any{"status": "stored", "id": id},
				"stored long-term memory "+id)
		})(cmd, args)
	}

	var topK int
	ltmSearch := &cobra.Command{
		Use:   "ltm-search <query>",
		Short: "Search long-term memory by meaning",
		Args:  cobra.MinimumNArgs(1),
	}
	ltmSearch.Flags().IntVarP(&topK, "top-k", "k", 0, "number of results (default: memory.topK)")
	ltmSearch.RunE = func(cmd *cobra.Command, args []string) error {
		return withMemory(func(ctx context.Context, s *bootstrap.Services, w io.Writer) error {
			results, err := s.Memory.SearchLTMMemory(ctx, strings.Join(args, " "), topK)
			if err != nil {
				return err
			}
			return writeResults(w, format, results)
		})(cmd, args)
	}

	cmd.AddCommand(add, search, list, tombstone, ltmAdd, ltmSearch)
	return cmd
}

// output は形式に応じてJSONかテキストを出す
func output(w io.Writer, format string, v any, text string) error {
	if format == formatJSON {
		return writeJSON(w, v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func writeMemories(w io.Writer, format string, memories []model.Memory) error {
	if format == formatJSON {
		if memories == nil {
			memories = []model.Memory{}
		}
		return writeJSON(w, map[string]any{"memories": memories})
	}
	if len(memories) == 0 {
		fmt.Fprintln(w, "No memories found.")
		return nil
	}
	for _, m := range memories {
		fmt.Fprintf(w, "#%d  %s  %s\n", m.ID, m.Timestamp.Local().Format(time.DateTime), truncateText(m.Content, textPreviewLen))
	}
	return nil
}

func writeResults(w io.Writer, format string, results []store.QueryResult) error {
	if format == formatJSON {
		return writeJSON(w, map[string]any{"results": results})
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(w, "[%d] %s (score: %.2f)\n", i+1, r.Document.ID, r.Score)
		fmt.Fprintf(w, "    %s\n", truncateText(r.Document.Text, textPreviewLen))
	}
	return nil
}

// truncateText は文字数がmaxLenを超える場合に " ..." を付けて切り詰める
func truncateText(text string, maxLen int) string {
	r := []rune(text)
	if len(r) <= maxLen {
		return text
	}
	return string(r[:maxLen]) + " ..."
}
