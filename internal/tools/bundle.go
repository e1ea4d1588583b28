package tools

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/brbranch/parmira/internal/memory"
	"github.com/brbranch/parmira/internal/model"
	"github.com/brbranch/parmira/internal/sandbox"
)

// バンドル名（serveの引数・servers設定のキー）
const (
	BundleShell  = "shell"
	BundleSQLite = "sqlite"
	BundlePython = "python"
	BundleFetch  = "fetch"
	BundleFS     = "fs"
	BundleMemory = "memory"
	BundleAll    = "all"
)

// Bundles はall以外のバンドル名
var Bundles = []string{BundleShell, BundleSQLite, BundlePython, BundleFetch, BundleFS, BundleMemory}

var (
	ErrUnknownBundle = errors.New("unknown tool bundle")
	ErrMemoryMissing = errors.New("memory bundle requires a memory service")
)

// Deps はバンドルの構築に必要な依存
type Deps struct {
	Config     model.ToolsConfig
	Runner     sandbox.Runner
	SQLitePath string
	FSRoot     string
	Memory     *memory.Service
	Logger     *slog.Logger
}

// NewBundle はバンドル名に対応するツールを登録したRegistryを作る
func NewBundle(name string, deps Deps) (*Registry, error) {
	reg := NewRegistry(deps.Logger)
	names := []string{name}
	if name == BundleAll {
		names = Bundles
	}
	for _, n := range names {
		tools, err := bundleTools(n, deps)
		if err != nil {
			// allではmemoryがなくても他のバンドルは使えるようにする
			if name == BundleAll && errors.Is(err, ErrMemoryMissing) {
				continue
			}
			return nil, err
		}
		reg.Register(tools...)
	}
	return reg, nil
}

func bundleTools(name string, deps Deps) ([]Tool, error) {
	cfg := deps.Config
	switch name {
	case BundleShell:
		return []Tool{NewShellTool(deps.Runner, cfg.ShellTimeout, "")}, nil
	case BundleSQLite:
		return []Tool{NewSQLiteTool(deps.SQLitePath)}, nil
	case BundlePython:
		return []Tool{NewPythonTool(cfg.PythonMaxSteps)}, nil
	case BundleFetch:
		return []Tool{NewFetchTool(cfg.FetchTimeout, cfg.FetchMaxChars)}, nil
	case BundleFS:
		return []Tool{
			NewListFilesTool(deps.FSRoot),
			NewReadFileTool(deps.FSRoot, cfg.FSMaxBytes),
		}, nil
	case BundleMemory:
		if deps.Memory == nil {
			return nil, ErrMemoryMissing
		}
		return MemoryTools(deps.Memory), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBundle, name)
	}
}
