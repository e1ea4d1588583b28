package model

import "time"

// Config はparmira全体の設定を表す
type Config struct {
	LLM      LLMConfig               `mapstructure:"llm" yaml:"llm"`
	Embedder EmbedderConfig          `mapstructure:"embedder" yaml:"embedder"`
	Store    StoreConfig             `mapstructure:"store" yaml:"store"`
	Memory   MemoryConfig            `mapstructure:"memory" yaml:"memory"`
	Servers  map[string]ServerConfig `mapstructure:"servers" yaml:"servers"`
	Sandbox  SandboxConfig           `mapstructure:"sandbox" yaml:"sandbox"`
	Tools    ToolsConfig             `mapstructure:"tools" yaml:"tools"`
	Indexer  IndexerConfig           `mapstructure:"indexer" yaml:"indexer"`
	Agent    AgentConfig             `mapstructure:"agent" yaml:"agent"`
	Log      LogConfig               `mapstructure:"log" yaml:"log"`
	Paths    PathsConfig             `mapstructure:"paths" yaml:"paths"`
}

// LLMConfig はchat completions APIの設定
type LLMConfig struct {
	BaseURL     string        `mapstructure:"baseUrl" yaml:"baseUrl"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"apiKey" yaml:"apiKey,omitempty"` // セキュリティ注意
	MaxTokens   int           `mapstructure:"maxTokens" yaml:"maxTokens"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries  int           `mapstructure:"maxRetries" yaml:"maxRetries"`
}

// EmbedderConfig はembedder設定
type EmbedderConfig struct {
	Provider string  `mapstructure:"provider" yaml:"provider"`         // "openai" | "ollama" | "local"
	Model    string  `mapstructure:"model" yaml:"model"`               // モデル名
	Dim      int     `mapstructure:"dim" yaml:"dim"`                   // ベクトル次元（0は未設定）
	BaseURL  *string `mapstructure:"baseUrl" yaml:"baseUrl,omitempty"` // nullable
	APIKey   *string `mapstructure:"apiKey" yaml:"apiKey,omitempty"`   // nullable（セキュリティ注意）
}

// StoreConfig はvector store設定
type StoreConfig struct {
	Type     string  `mapstructure:"type" yaml:"type"`                   // "chroma" | "sqlite" | "qdrant" | "memory"
	Path     *string `mapstructure:"path" yaml:"path,omitempty"`         // nullable（SQLite用）
	URL      *string `mapstructure:"url" yaml:"url,omitempty"`           // nullable（Chroma/Qdrant用）
	Tenant   string  `mapstructure:"tenant" yaml:"tenant,omitempty"`     // Chroma用
	Database string  `mapstructure:"database" yaml:"database,omitempty"` // Chroma用
}

// MemoryConfig はSTM/LTMの設定
type MemoryConfig struct {
	STMPath       string `mapstructure:"stmPath" yaml:"stmPath"`             // 空の場合は dataDir/memory.db
	LTMCollection string `mapstructure:"ltmCollection" yaml:"ltmCollection"` // default: semantic_memory
	TopK          int    `mapstructure:"topK" yaml:"topK"`                   // default: 5
}

// ServerConfig はMCPツールサーバーへの接続設定
type ServerConfig struct {
	Transport string   `mapstructure:"transport" yaml:"transport"` // "inproc" | "http" | "stdio"
	URL       string   `mapstructure:"url" yaml:"url,omitempty"`
	Command   []string `mapstructure:"command" yaml:"command,omitempty"`
}

// SandboxConfig はシェル実行の隔離設定
type SandboxConfig struct {
	Mode    string   `mapstructure:"mode" yaml:"mode"`                 // "direct" | "bwrap" | "container" | "auto"
	Image   string   `mapstructure:"image" yaml:"image,omitempty"`     // container用イメージ
	Network bool     `mapstructure:"network" yaml:"network"`           // サンドボックス内のネットワーク許可
	WorkDir string   `mapstructure:"workDir" yaml:"workDir,omitempty"` // 空の場合はカレントディレクトリ
	Allow   []string `mapstructure:"allow" yaml:"allow,omitempty"`     // 空なら全プログラム許可
	Deny    []string `mapstructure:"deny" yaml:"deny,omitempty"`
}

// ToolsConfig はツールごとの制限値
type ToolsConfig struct {
	ShellTimeout   time.Duration `mapstructure:"shellTimeout" yaml:"shellTimeout"`
	FetchTimeout   time.Duration `mapstructure:"fetchTimeout" yaml:"fetchTimeout"`
	FetchMaxChars  int           `mapstructure:"fetchMaxChars" yaml:"fetchMaxChars"`
	PythonMaxSteps uint64        `mapstructure:"pythonMaxSteps" yaml:"pythonMaxSteps"`
	SQLitePath     string        `mapstructure:"sqlitePath" yaml:"sqlitePath,omitempty"` // 空の場合は indexer.dbPath
	FSRoot         string        `mapstructure:"fsRoot" yaml:"fsRoot,omitempty"`
	FSMaxBytes     int           `mapstructure:"fsMaxBytes" yaml:"fsMaxBytes"`
}

// IndexerConfig はシステムファイルインデクサの設定
type IndexerConfig struct {
	Roots          []string      `mapstructure:"roots" yaml:"roots"`
	DBPath         string        `mapstructure:"dbPath" yaml:"dbPath,omitempty"` // 空の場合は dataDir/system.db
	SkipExtensions []string      `mapstructure:"skipExtensions" yaml:"skipExtensions,omitempty"`
	History        bool          `mapstructure:"history" yaml:"history"` // LTMへの追記
	Collection     string        `mapstructure:"collection" yaml:"collection"`
	Every          time.Duration `mapstructure:"every" yaml:"every"`
}

// AgentConfig はエージェントループの設定
type AgentConfig struct {
	MaxSteps int `mapstructure:"maxSteps" yaml:"maxSteps"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level   string `mapstructure:"level" yaml:"level"` // "debug" | "info" | "warn" | "error"
	Dir     string `mapstructure:"dir" yaml:"dir,omitempty"`
	Stderr  bool   `mapstructure:"stderr" yaml:"stderr"`
	Journal bool   `mapstructure:"journal" yaml:"journal"`
}

// PathsConfig はファイルパス設定
type PathsConfig struct {
	ConfigPath string `mapstructure:"configPath" yaml:"configPath"`
	DataDir    string `mapstructure:"dataDir" yaml:"dataDir"`
	PromptsDir string `mapstructure:"promptsDir" yaml:"promptsDir,omitempty"`
}

// Transport定数
const (
	TransportInProc = "inproc"
	TransportStdio  = "stdio"
	TransportHTTP   = "http"
)

// Embedder Provider定数
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderLocal  = "local"
)

// Store Type定数
const (
	StoreTypeChroma = "chroma"
	StoreTypeSQLite = "sqlite"
	StoreTypeQdrant = "qdrant"
	StoreTypeMemory = "memory"
)

// Sandbox Mode定数
const (
	SandboxDirect    = "direct"
	SandboxBwrap     = "bwrap"
	SandboxContainer = "container"
	SandboxAuto      = "auto"
)
