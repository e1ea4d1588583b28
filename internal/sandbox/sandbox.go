// Package sandbox runs external commands for the shell tool, either directly,
// inside bubblewrap, or inside a docker/podman container.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brbranch/parmira/internal/model"
)

// エラー定義
var (
	ErrEmptyCommand    = errors.New("command is empty")
	ErrCommandNotFound = errors.New("command not found")
	ErrDenied          = errors.New("command denied by sandbox policy")
	ErrUnavailable     = errors.New("sandbox backend is not available")
	ErrUnknownMode     = errors.New("unknown sandbox mode")
)

// Command は実行するコマンド
type Command struct {
	Argv    []string
	Dir     string
	Env     []string
	Timeout time.Duration // 0はタイムアウトなし
	Stdin   []byte
}

// Result は実行結果
// 非ゼロ終了はエラーではなくExitCodeで表す
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Runner はコマンドを実行する
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// New は設定に従ってRunnerを作る
// allow/denyが設定されている場合はPolicyで包む
func New(cfg model.SandboxConfig, logger *slog.Logger) (Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		runner Runner
		err    error
	)
	switch cfg.Mode {
	case "", model.SandboxDirect:
		runner = NewDirect()
	case model.SandboxBwrap:
		runner, err = NewBwrap(cfg.WorkDir, cfg.Network)
	case model.SandboxContainer:
		runner, err = NewContainer("", cfg.Image, cfg.WorkDir, cfg.Network)
	case model.SandboxAuto:
		runner = auto(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, cfg.Mode)
	}
	if err != nil {
		return nil, err
	}

	if len(cfg.Allow) > 0 || len(cfg.Deny) > 0 {
		runner = NewPolicy(runner, cfg.Allow, cfg.Deny)
	}
	return runner, nil
}

// auto はbwrap、コンテナ、直接実行の順に利用可能なものを選ぶ
func auto(cfg model.SandboxConfig, logger *slog.Logger) Runner {
	if b, err := NewBwrap(cfg.WorkDir, cfg.Network); err == nil {
		logger.Debug("sandbox selected", "mode", model.SandboxBwrap)
		return b
	}
	if c, err := NewContainer("", cfg.Image, cfg.WorkDir, cfg.Network); err == nil {
		logger.Debug("sandbox selected", "mode", model.SandboxContainer, "engine", c.Engine)
		return c
	}
	logger.Warn("no sandbox backend available, running commands directly")
	return NewDirect()
}
