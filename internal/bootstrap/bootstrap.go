// Package bootstrap provides common initialization logic for parmira.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/brbranch/parmira/internal/agent"
	"github.com/brbranch/parmira/internal/config"
	"github.com/brbranch/parmira/internal/embedder"
	"github.com/brbranch/parmira/internal/indexer"
	"github.com/brbranch/parmira/internal/jsonrpc"
	"github.com/brbranch/parmira/internal/llm"
	"github.com/brbranch/parmira/internal/logging"
	"github.com/brbranch/parmira/internal/mcpclient"
	"github.com/brbranch/parmira/internal/memory"
	"github.com/brbranch/parmira/internal/model"
	"github.com/brbranch/parmira/internal/prompts"
	"github.com/brbranch/parmira/internal/router"
	"github.com/brbranch/parmira/internal/sandbox"
	"github.com/brbranch/parmira/internal/store"
	"github.com/brbranch/parmira/internal/tools"
)

// connectTimeout はツールサーバーとのハンドシェイクの待ち時間
const connectTimeout = 10 * time.Second

// ErrUnknownTransport は servers.*.transport が不正な場合のエラー
var ErrUnknownTransport = errors.New("unknown server transport")

// Services は初期化されたサービス群を保持
type Services struct {
	Config    *model.Config
	Manager   *config.Manager
	Namespace string
	Embedder  embedder.Embedder
	Memory    *memory.Service
	Runner    sandbox.Runner
	Prompts   *prompts.Set

	closers []func() error
}

// Agents はLLMを使うエージェント群
type Agents struct {
	Router   *router.Router
	LLM      *llm.Client
	Terminal *agent.TerminalAgent
	Memory   *agent.MemoryAgent
	RAG      *agent.RAGAgent
}

// Initialize は設定を読み込み、メモリ・サンドボックス・プロンプトを初期化する
// ツールサーバーへの接続とエージェントはAgentsで作る
func Initialize(ctx context.Context, configPath string) (*Services, func(), error) {
	// 設定マネージャーの作成
	configManager, err := config.NewManager(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create config manager: %w", err)
	}

	// 設定ファイルの読み込み
	if err := configManager.Load(); err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := configManager.GetConfig()
	s := &Services{
		Config:    cfg,
		Manager:   configManager,
		Namespace: config.GenerateNamespace(cfg.Embedder.Provider, cfg.Embedder.Model, cfg.Embedder.Dim),
	}
	cleanup := func() {
		_ = s.Close()
		_ = logging.Close()
	}

	if err := config.EnsureDir(cfg.Paths.DataDir); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// 1. Embedder初期化
	s.Embedder, err = embedder.NewEmbedder(&cfg.Embedder, config.GetOpenAIAPIKey(cfg), configManager)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	// 2. STM
	memLogger := logging.New(cfg.Log, logging.ComponentMemory)
	stm, err := memory.OpenShortTerm(ctx, config.STMPath(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open short-term memory: %w", err)
	}

	// 3. LTM（ストアに繋がらない場合はLTMなしで続行）
	ltm, err := s.openLongTerm(ctx, cfg.Memory.LTMCollection)
	if err != nil {
		memLogger.Warn("long-term memory disabled", "store", cfg.Store.Type, "error", err)
		ltm = nil
	}
	s.Memory = memory.NewService(stm, ltm, cfg.Memory.TopK, memLogger)
	s.closers = append(s.closers, s.Memory.Close)

	// 4. Sandbox
	s.Runner, err = sandbox.New(cfg.Sandbox, logging.New(cfg.Log, logging.ComponentServer))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to create sandbox: %w", err)
	}

	// 5. Prompts
	s.Prompts, err = prompts.Load(cfg.Paths.PromptsDir)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to load prompts: %w", err)
	}

	return s, cleanup, nil
}

// openLongTerm はベクトルストアを開き、namespace付きのコレクションを用意する
func (s *Services) openLongTerm(ctx context.Context, base string) (*memory.LongTerm, error) {
	st, err := store.Open(s.Config.Store, config.VectorDBPath(s.Config))
	if err != nil {
		return nil, err
	}
	ltm := memory.NewLongTerm(st, s.Embedder)
	if err := ltm.Initialize(ctx, config.CollectionName(base, s.Namespace)); err != nil {
		st.Close()
		return nil, err
	}
	return ltm, nil
}

// ToolDeps はツールバンドルに渡す依存を返す
func (s *Services) ToolDeps(logger *slog.Logger) tools.Deps {
	sqlitePath := s.Config.Tools.SQLitePath
	if sqlitePath == "" {
		sqlitePath = config.SystemDBPath(s.Config)
	}
	return tools.Deps{
		Config:     s.Config.Tools,
		Runner:     s.Runner,
		SQLitePath: sqlitePath,
		FSRoot:     s.Config.Tools.FSRoot,
		Memory:     s.Memory,
		Logger:     logger,
	}
}

// Handler はバンドルのツールを公開するJSON-RPCハンドラを作る
func (s *Services) Handler(bundle string) (*jsonrpc.Handler, error) {
	logger := logging.New(s.Config.Log, logging.ComponentServer).With("bundle", bundle)
	reg, err := tools.NewBundle(bundle, s.ToolDeps(logger))
	if err != nil {
		return nil, err
	}
	return jsonrpc.New(reg,
		jsonrpc.WithServerName("parmira-"+bundle),
		jsonrpc.WithLogger(logger),
	), nil
}

// Connect は servers 設定の各サーバーに接続し、Routerを作る
// 接続できないサーバーは警告を出して除外する
func (s *Services) Connect(ctx context.Context) (*router.Router, error) {
	logger := logging.New(s.Config.Log, logging.ComponentTerminal)

	names := make([]string, 0, len(s.Config.Servers))
	for name := range s.Config.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	servers := make(map[string]router.Caller, len(names))
	for _, name := range names {
		client, err := s.dial(name, s.Config.Servers[name])
		if err != nil {
			if errors.Is(err, ErrUnknownTransport) || errors.Is(err, tools.ErrUnknownBundle) {
				return nil, err
			}
			logger.Warn("skip tool server", "server", name, "error", err)
			continue
		}

		hctx, cancel := context.WithTimeout(ctx, connectTimeout)
		info, err := client.Initialize(hctx)
		cancel()
		if err != nil {
			logger.Warn("skip tool server", "server", name, "error", err)
			_ = client.Close()
			continue
		}
		logger.Debug("tool server connected", "server", name, "name", info.ServerInfo.Name)

		s.closers = append(s.closers, client.Close)
		servers[name] = client
	}
	return router.New(servers, logger), nil
}

func (s *Services) dial(name string, sc model.ServerConfig) (*mcpclient.Client, error) {
	switch sc.Transport {
	case model.TransportInProc, "":
		h, err := s.Handler(name)
		if err != nil {
			return nil, err
		}
		return mcpclient.NewInProc(h), nil
	case model.TransportHTTP:
		return mcpclient.NewHTTP(sc.URL), nil
	case model.TransportStdio:
		return mcpclient.SpawnStdio(sc.Command, os.Stderr)
	default:
		return nil, fmt.Errorf("%w: %q for server %s", ErrUnknownTransport, sc.Transport, name)
	}
}

// Agents はツールサーバーに接続し、LLMとエージェントを作る
func (s *Services) Agents(ctx context.Context) (*Agents, error) {
	r, err := s.Connect(ctx)
	if err != nil {
		return nil, err
	}

	cfg := s.Config
	termLogger := logging.New(cfg.Log, logging.ComponentTerminal)
	client := llm.New(cfg.LLM, config.GetLLMAPIKey(cfg), llm.WithLogger(termLogger))
	rag := agent.NewRAGAgent(client, s.Prompts.RAG, logging.New(cfg.Log, logging.ComponentRAG))

	return &Agents{
		Router: r,
		LLM:    client,
		RAG:    rag,
		Terminal: agent.NewTerminalAgent(client, r, s.Prompts.Terminal,
			agent.WithMemory(s.Memory),
			agent.WithCurator(rag),
			agent.WithMaxSteps(cfg.Agent.MaxSteps),
			agent.WithLogger(termLogger),
		),
		Memory: agent.NewMemoryAgent(client, r, s.Prompts.Memory, logging.New(cfg.Log, logging.ComponentMemory)),
	}, nil
}

// OpenIndexer はファイルインデクサを開く
// indexer.history が有効な場合はsystem_filesコレクションへ追記する
func (s *Services) OpenIndexer(ctx context.Context) (*indexer.Indexer, error) {
	cfg := s.Config
	logger := logging.New(cfg.Log, logging.ComponentIndexer)
	opts := []indexer.Option{indexer.WithLogger(logger)}

	if cfg.Indexer.History {
		collection := cfg.Indexer.Collection
		if collection == "" {
			collection = indexer.DefaultCollection
		}
		history, err := s.openLongTerm(ctx, collection)
		if err != nil {
			logger.Warn("file history disabled", "error", err)
		} else {
			s.closers = append(s.closers, history.Close)
			opts = append(opts, indexer.WithHistory(history))
		}
	}

	ix, err := indexer.Open(ctx, cfg.Indexer, config.SystemDBPath(cfg), opts...)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, ix.Close)
	return ix, nil
}

// Close は開いたリソースを逆順に閉じる
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
