// Package tools implements the tools parmira exposes over MCP: shell commands,
// read-only SQLite queries, Starlark evaluation, web fetches, filesystem
// access and the memory operations.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/brbranch/parmira/internal/model"
)

// ErrUnknownTool は登録されていないツールの呼び出し
var ErrUnknownTool = errors.New("unknown tool")

// ステータス
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Tool はMCPで公開されるツール
// Nameはtools/callの名前とレガシーRESTのパス（POST /<name>）を兼ねる
type Tool interface {
	Name() string
	Description() string
	Schema() model.JSONSchema
	Call(ctx context.Context, args map[string]any) *Result
}

// Result はツールの実行結果
// Codeは元のHTTPサーバーと同じステータス（成功は200）
type Result struct {
	Status string
	Code   int
	Detail string
	Fields map[string]any
}

// Success は成功結果を作る
func Success(fields map[string]any) *Result {
	if fields == nil {
		fields = map[string]any{}
	}
	return &Result{Status: StatusSuccess, Code: http.StatusOK, Fields: fields}
}

// Failure はエラー結果を作る
func Failure(code int, format string, args ...any) *Result {
	return &Result{Status: StatusError, Code: code, Detail: fmt.Sprintf(format, args...)}
}

// IsError はツールが失敗したかを返す
func (r *Result) IsError() bool {
	return r.Code >= 400
}

// Body はレガシーRESTで返すJSONボディ
// エラーは {"detail": ...} の形になる
func (r *Result) Body() map[string]any {
	if r.IsError() {
		return map[string]any{"detail": r.Detail}
	}
	body := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		body[k] = v
	}
	if _, ok := body["status"]; !ok {
		body["status"] = r.Status
	}
	return body
}

// MarshalJSON はMCPのテキストコンテンツとして返す形にする
func (r *Result) MarshalJSON() ([]byte, error) {
	body := r.Body()
	if r.IsError() {
		body["status"] = StatusError
		body["code"] = r.Code
	}
	return json.Marshal(body)
}

// Definition はtools/listで返す定義を作る
func Definition(t Tool) model.Tool {
	return model.Tool{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: t.Schema(),
	}
}

// Registry は名前でツールを引けるようにする（登録順を保持）
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry はRegistryを作成する
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{tools: map[string]Tool{}, logger: logger}
}

// Register はツールを登録する（同名は上書き）
func (r *Registry) Register(tools ...Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if _, ok := r.tools[t.Name()]; !ok {
			r.order = append(r.order, t.Name())
		}
		r.tools[t.Name()] = t
	}
}

// Get はツールを返す
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Tools は登録順のツール一覧を返す
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Definitions はtools/list用の定義一覧を返す
func (r *Registry) Definitions() []model.Tool {
	tools := r.Tools()
	defs := make([]model.Tool, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, Definition(t))
	}
	return defs
}

// Call は名前でツールを呼び出す
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (*Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	res := t.Call(ctx, args)
	r.logger.Info("tool called",
		"tool", name,
		"status", res.Status,
		"code", res.Code,
		"elapsed", time.Since(start),
	)
	return res, nil
}
