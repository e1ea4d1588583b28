// Package main is the entry point for the parmira CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brbranch/parmira/internal/bootstrap"
	"github.com/brbranch/parmira/internal/config"
	"github.com/brbranch/parmira/internal/logging"
)

// ビルド時変数（-ldflags で変更可能）
var version = "dev"

// app はサブコマンド間で共有するフラグ
type app struct {
	v        *viper.Viper
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd はコマンドツリーを組み立てる
func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "parmira",
		Short: "Terminal agent with MCP tool servers and layered memory",
		Long: `parmira answers questions by reasoning over MCP tool servers
(shell, sqlite, python, fetch, filesystem, memory) and recalls context from
short-term (SQLite) and long-term (vector store) memory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.logLevel != "" {
				return logging.SetLevel(a.logLevel)
			}
			return nil
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "config file (default: ~/.parmira/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	// --config > PARMIRA_CONFIG
	_ = a.v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	a.v.SetEnvPrefix(config.EnvPrefix)
	_ = a.v.BindEnv("config")

	root.AddCommand(
		a.askCmd(),
		a.chatCmd(),
		a.serveCmd(),
		a.memoryCmd(),
		a.indexCmd(),
		a.toolsCmd(),
		a.promptsCmd(),
		versionCmd(),
	)
	return root
}

// configPath は設定ファイルのパスを返す（空ならデフォルト）
func (a *app) configPath() string {
	return a.v.GetString("config")
}

// services はbootstrapで共通の初期化を行う
func (a *app) services(ctx context.Context) (*bootstrap.Services, func(), error) {
	services, cleanup, err := bootstrap.Initialize(ctx, a.configPath())
	if err != nil {
		return nil, nil, err
	}
	// 後から作られるロガーも --log-level に従わせる
	if a.logLevel != "" {
		services.Config.Log.Level = a.logLevel
		_ = logging.SetLevel(a.logLevel)
	}
	return services, cleanup, nil
}

// setupSignalHandler はSIGINT/SIGTERMを受けてcontextをキャンセルする
func setupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of parmira",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "parmira version %s\n", version)
		},
	}
}
