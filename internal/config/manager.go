// Package config loads and persists parmira configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/brbranch/parmira/internal/model"
)

// Manager は設定の読み書きを管理する
type Manager struct {
	mu         sync.RWMutex
	config     *model.Config
	configPath string
	dataDir    string
}

// NewManager は新しいManagerを作成する
// configPathが空文字の場合、デフォルトパス（~/.parmira/config.yaml）を使用
func NewManager(configPath string) (*Manager, error) {
	if configPath == "" {
		defaultPath, err := GetDefaultConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get default config path: %w", err)
		}
		configPath = defaultPath
	}

	dataDir, err := GetDefaultDataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get default data dir: %w", err)
	}

	return &Manager{
		config:     DefaultConfig(configPath, dataDir),
		configPath: configPath,
		dataDir:    dataDir,
	}, nil
}

// Load は設定ファイルと環境変数（PARMIRA_*）を読み込む
// ファイルが存在しない場合はデフォルト設定 + 環境変数を使用（エラーなし）
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := viper.New()
	v.SetConfigType("yaml")

	// デフォルト値をベースとして読み込む
	base, err := yaml.Marshal(DefaultConfig(m.configPath, m.dataDir))
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return fmt.Errorf("failed to read default config: %w", err)
	}

	data, err := os.ReadFile(m.configPath)
	switch {
	case err == nil:
		v.SetConfigType(configType(m.configPath))
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
		// デフォルト設定のまま
	default:
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg model.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Paths.ConfigPath = m.configPath

	m.config = &cfg
	return nil
}

// configType は拡張子からviperの設定形式を返す
func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

// Save は設定ファイルを保存する
func (m *Manager) Save() error {
	m.mu.RLock()
	config := m.config
	m.mu.RUnlock()

	if err := EnsureDir(filepath.Dir(m.configPath)); err != nil {
		return err
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 一時ファイルに書き込み（atomicな保存のため）
	tmpFile := m.configPath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := os.Rename(tmpFile, m.configPath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	return nil
}

// GetConfig は現在の設定を返す
func (m *Manager) GetConfig() *model.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetConfigPath は設定ファイルパスを返す
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// UpdateDim は埋め込み次元を更新する（初回埋め込み時に使用）
func (m *Manager) UpdateDim(dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config.Embedder.Dim = dim
	return nil
}

// NewManagerWithConfig は指定した設定でManagerを作成する（テスト用）
func NewManagerWithConfig(cfg *model.Config) *Manager {
	return &Manager{
		config:     cfg,
		configPath: cfg.Paths.ConfigPath,
		dataDir:    cfg.Paths.DataDir,
	}
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig(configPath, dataDir string) *model.Config {
	return &model.Config{
		LLM: model.LLMConfig{
			BaseURL:     "https://router.huggingface.co/v1",
			Model:       "meta-llama/Llama-4-Scout-17B-16E-Instruct",
			MaxTokens:   1000,
			Temperature: 0.0,
			Timeout:     60 * time.Second,
			MaxRetries:  3,
		},
		Embedder: model.EmbedderConfig{
			Provider: model.ProviderLocal,
			Model:    "hash",
			Dim:      384,
		},
		Store: model.StoreConfig{
			Type:     model.StoreTypeChroma,
			Tenant:   "default_tenant",
			Database: "default_database",
		},
		Memory: model.MemoryConfig{
			LTMCollection: "semantic_memory",
			TopK:          5,
		},
		Servers: DefaultServers(),
		Sandbox: model.SandboxConfig{
			Mode:  model.SandboxDirect,
			Image: "docker.io/library/alpine:3.20",
		},
		Tools: model.ToolsConfig{
			ShellTimeout:   10 * time.Second,
			FetchTimeout:   30 * time.Second,
			FetchMaxChars:  2000,
			PythonMaxSteps: 1_000_000,
			FSMaxBytes:     64 * 1024,
		},
		Indexer: model.IndexerConfig{
			Roots:          []string{"~/"},
			SkipExtensions: []string{".sys", ".dll", ".lnk"},
			Collection:     "system_files",
			Every:          60 * time.Minute,
		},
		Agent: model.AgentConfig{
			MaxSteps: 5,
		},
		Log: model.LogConfig{
			Level:  "info",
			Dir:    filepath.Join(filepath.Dir(dataDir), DefaultLogSubDir),
			Stderr: true,
		},
		Paths: model.PathsConfig{
			ConfigPath: configPath,
			DataDir:    dataDir,
		},
	}
}

// DefaultServers はツールサーバーの既定の接続先を返す
// 既定はすべてプロセス内実行。http に切り替えた場合のポートは従来の割り当てに従う
func DefaultServers() map[string]model.ServerConfig {
	return map[string]model.ServerConfig{
		"shell":  {Transport: model.TransportInProc, URL: "http://localhost:8001"},
		"sqlite": {Transport: model.TransportInProc, URL: "http://localhost:8002"},
		"python": {Transport: model.TransportInProc, URL: "http://localhost:8003"},
		"fetch":  {Transport: model.TransportInProc, URL: "http://localhost:8004"},
		"fs":     {Transport: model.TransportInProc, URL: "http://localhost:8005"},
		"memory": {Transport: model.TransportInProc, URL: "http://localhost:8006"},
	}
}

// STMPath はSTMのSQLiteパスを返す
func STMPath(cfg *model.Config) string {
	if cfg.Memory.STMPath != "" {
		return cfg.Memory.STMPath
	}
	return filepath.Join(cfg.Paths.DataDir, "memory.db")
}

// SystemDBPath はファイルインデックスのSQLiteパスを返す
func SystemDBPath(cfg *model.Config) string {
	if cfg.Indexer.DBPath != "" {
		return cfg.Indexer.DBPath
	}
	return filepath.Join(cfg.Paths.DataDir, "system.db")
}

// VectorDBPath はSQLiteベクトルストアのパスを返す
func VectorDBPath(cfg *model.Config) string {
	if cfg.Store.Path != nil && *cfg.Store.Path != "" {
		return *cfg.Store.Path
	}
	return filepath.Join(cfg.Paths.DataDir, "vectors.db")
}
