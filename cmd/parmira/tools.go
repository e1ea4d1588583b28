package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/brbranch/parmira/internal/config"
	"github.com/brbranch/parmira/internal/prompts"
)

func (a *app) toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools the terminal agent can route to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, cleanup, err := a.services(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			r, err := services.Connect(cmd.Context())
			if err != nil {
				return err
			}
			desc := r.Describe(cmd.Context())
			if desc == "" {
				desc = "No tool servers available."
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), desc)
			return err
		},
	}
}

func (a *app) promptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Manage agent prompt files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init [dir]",
		Short: "Write the built-in prompt files so they can be edited",
		Long: `init writes terminal_prompts.yaml, memory_prompts.yaml and rag_prompts.yaml.
Existing files are left untouched. Without dir, files go to paths.promptsDir or
<config dir>/prompts. Point paths.promptsDir at the directory to use them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.promptsDir(args)
			if err != nil {
				return err
			}
			written, err := prompts.WriteDefaults(dir)
			if err != nil {
				return fmt.Errorf("failed to write prompts: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(written) == 0 {
				fmt.Fprintf(out, "prompt files already exist in %s\n", dir)
				return nil
			}
			for _, path := range written {
				fmt.Fprintf(out, "wrote %s\n", path)
			}
			return nil
		},
	})
	return cmd
}

// promptsDir は書き出し先: 引数 > paths.promptsDir > 設定ファイルと同じ場所の prompts/
func (a *app) promptsDir(args []string) (string, error) {
	if len(args) == 1 {
		return config.ResolvePath(args[0])
	}
	m, err := config.NewManager(a.configPath())
	if err != nil {
		return "", err
	}
	if err := m.Load(); err != nil {
		return "", err
	}
	if dir := m.GetConfig().Paths.PromptsDir; dir != "" {
		return config.ResolvePath(dir)
	}
	return filepath.Join(filepath.Dir(m.GetConfigPath()), "prompts"), nil
}
