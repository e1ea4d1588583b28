// Package router resolves agent tool calls to an MCP server and tool.
//
// Routing is hierarchical: a category (SHELL_COMMAND, FETCH_WEB, ...) picks
// the server, and the endpoint (or the category default) picks the tool on
// that server.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/brbranch/parmira/internal/model"
)

// ErrUnknownTool はどのカテゴリにも解決できないツール名
var ErrUnknownTool = errors.New("unknown MCP tool")

// UnknownToolError は解決できなかったツール名を持つ
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return "Unknown MCP tool: " + e.Name
}

func (e *UnknownToolError) Is(target error) bool {
	return target == ErrUnknownTool
}

// Caller はMCPサーバーへのクライアント
type Caller interface {
	ListTools(ctx context.Context) ([]model.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*model.ToolsCallResult, error)
}

// ToolCall はエージェントが出力するツール呼び出し
type ToolCall struct {
	Tool     string         `json:"tool_call"`
	Endpoint string         `json:"endpoint,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// UnmarshalJSON は "tool_call" の代わりに "tool" も受け付ける
func (c *ToolCall) UnmarshalJSON(data []byte) error {
	var raw struct {
		ToolCall  string         `json:"tool_call"`
		Tool      string         `json:"tool"`
		Endpoint  string         `json:"endpoint"`
		Payload   map[string]any `json:"payload"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Tool = raw.ToolCall
	if c.Tool == "" {
		c.Tool = raw.Tool
	}
	c.Endpoint = raw.Endpoint
	c.Payload = raw.Payload
	if c.Payload == nil {
		c.Payload = raw.Arguments
	}
	return nil
}

// Category はツールカテゴリとその担当サーバー
type Category struct {
	Name        string
	Server      string
	Tools       []string // 先頭がデフォルト
	Aliases     []string
	Description string
}

// カテゴリ名
const (
	CategoryShell      = "SHELL_COMMAND"
	CategorySQLite     = "SYSTEM_SQLITE"
	CategoryPython     = "PYTHON_EVAL"
	CategoryFetch      = "FETCH_WEB"
	CategoryFilesystem = "FILESYSTEM"
	CategoryMemory     = "MEMORY"
)

// Categories は既知のカテゴリ一覧
var Categories = []Category{
	{
		Name:        CategoryShell,
		Server:      "shell",
		Tools:       []string{"execute_shell"},
		Aliases:     []string{"shell", "bash", "sh", "terminal", "command"},
		Description: "run a single command without a shell",
	},
	{
		Name:        CategorySQLite,
		Server:      "sqlite",
		Tools:       []string{"execute_query"},
		Aliases:     []string{"sqlite", "sql", "db", "database", "system_db"},
		Description: "read-only SELECT over the system database",
	},
	{
		Name:        CategoryPython,
		Server:      "python",
		Tools:       []string{"execute_python"},
		Aliases:     []string{"python", "py", "eval"},
		Description: "evaluate simple math and assignments",
	},
	{
		Name:        CategoryFetch,
		Server:      "fetch",
		Tools:       []string{"fetch_url"},
		Aliases:     []string{"fetch", "web", "http", "url"},
		Description: "GET a public web page",
	},
	{
		Name:        CategoryFilesystem,
		Server:      "fs",
		Tools:       []string{"list_files", "read_file"},
		Aliases:     []string{"fs", "file", "files", "filesystem"},
		Description: "list and read files under the workspace root",
	},
	{
		Name:   CategoryMemory,
		Server: "memory",
		Tools: []string{
			"search_memory", "store_memory", "tombstone_memory",
			"fetch_all_memories", "store_ltm_memory", "search_ltm_memory",
		},
		Aliases:     []string{"memory", "mem"},
		Description: "short-term and long-term memory",
	},
}

func normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}

// lookup はカテゴリ名・エイリアス・ツール名からカテゴリを探す
// ツール名で見つかった場合はそのツール名も返す
func lookup(name string) (*Category, string, bool) {
	n := normalize(name)
	for i := range Categories {
		c := &Categories[i]
		if n == normalize(c.Name) || slices.Contains(c.Aliases, n) {
			return c, "", true
		}
	}
	for i := range Categories {
		c := &Categories[i]
		if slices.Contains(c.Tools, n) {
			return c, n, true
		}
	}
	return nil, "", false
}

// Target は解決結果
type Target struct {
	Category string
	Server   string
	Tool     string
}

// Router はツール呼び出しをサーバーに振り分ける
type Router struct {
	servers map[string]Caller
	logger  *slog.Logger
}

// New はサーバー名→クライアントの対応からRouterを作る
func New(servers map[string]Caller, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{servers: servers, logger: logger}
}

// Resolve はツール呼び出しの行き先を決める
func (r *Router) Resolve(call ToolCall) (Target, error) {
	c, tool, ok := lookup(call.Tool)
	if !ok {
		return Target{}, &UnknownToolError{Name: call.Tool}
	}
	if _, ok := r.servers[c.Server]; !ok {
		return Target{}, &UnknownToolError{Name: call.Tool}
	}

	if tool == "" {
		tool = c.Tools[0]
		if ep := normalize(strings.Trim(call.Endpoint, "/")); ep != "" {
			if slices.Contains(c.Tools, ep) {
				tool = ep
			} else {
				r.logger.Debug("unknown endpoint, using default tool",
					"category", c.Name, "endpoint", call.Endpoint, "tool", tool)
			}
		}
	}
	return Target{Category: c.Name, Server: c.Server, Tool: tool}, nil
}

// Route はツールを実行する
// 解決できない場合のみerrorを返し、通信失敗はIsError付きの結果にする
func (r *Router) Route(ctx context.Context, call ToolCall) (*model.ToolsCallResult, Target, error) {
	target, err := r.Resolve(call)
	if err != nil {
		r.logger.Warn("route failed", "tool", call.Tool, "error", err)
		return nil, Target{}, err
	}

	r.logger.Info("routing tool call",
		"category", target.Category, "server", target.Server, "tool", target.Tool)

	result, err := r.servers[target.Server].CallTool(ctx, target.Tool, call.Payload)
	if err != nil {
		r.logger.Warn("tool call failed", "server", target.Server, "tool", target.Tool, "error", err)
		msg, _ := json.Marshal(map[string]string{"error": err.Error()})
		return model.NewToolError(string(msg)), target, nil
	}
	return result, target, nil
}

// Tools はルーティング可能な（サーバーが設定済みの）カテゴリを返す
func (r *Router) Tools() []Category {
	var out []Category
	for _, c := range Categories {
		if _, ok := r.servers[c.Server]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Describe はプロンプトに埋め込むツール説明を作る
// サーバーから一覧が取れない場合はカテゴリの説明だけを載せる
func (r *Router) Describe(ctx context.Context) string {
	var b strings.Builder
	for _, c := range r.Tools() {
		fmt.Fprintf(&b, "- %s (%s): %s\n", c.Name, c.Server, c.Description)

		list, err := r.servers[c.Server].ListTools(ctx)
		if err != nil {
			r.logger.Warn("list tools failed", "server", c.Server, "error", err)
			continue
		}
		for _, t := range list {
			fmt.Fprintf(&b, "  - endpoint /%s: %s", t.Name, t.Description)
			if params := schemaParams(t.InputSchema); params != "" {
				fmt.Fprintf(&b, " payload {%s}", params)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func schemaParams(s model.JSONSchema) string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	slices.Sort(names)
	for i, name := range names {
		if slices.Contains(s.Required, name) {
			names[i] = name + "*"
		}
	}
	return strings.Join(names, ", ")
}
