// Package jsonrpc implements the JSON-RPC 2.0 / MCP handler that serves a tool registry.
package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/brbranch/parmira/internal/model"
	"github.com/brbranch/parmira/internal/tools"
)

// Handler はJSON-RPCリクエストを処理する
type Handler struct {
	registry     *tools.Registry
	serverInfo   model.ServerInfo
	instructions string
	logger       *slog.Logger
}

// Option はHandlerのオプション
type Option func(*Handler)

// WithServerName はinitializeで返すサーバー名を設定
func WithServerName(name string) Option {
	return func(h *Handler) {
		h.serverInfo.Name = name
	}
}

// WithInstructions はinitializeで返すinstructionsを設定
func WithInstructions(s string) Option {
	return func(h *Handler) {
		h.instructions = s
	}
}

// WithLogger はロガーを設定
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// New は新しいHandlerを生成
func New(registry *tools.Registry, opts ...Option) *Handler {
	h := &Handler{
		registry: registry,
		serverInfo: model.ServerInfo{
			Name:    "parmira",
			Version: ServerVersion,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry はハンドラーが公開しているツールを返す
func (h *Handler) Registry() *tools.Registry {
	return h.registry
}

// Handle はJSON-RPCリクエストをパースしてディスパッチ
// 戻り値は *model.Response または *model.ErrorResponse のJSON bytes
// 通知（idなし）の場合はnilを返す
func (h *Handler) Handle(ctx context.Context, requestBytes []byte) []byte {
	// 1. パース
	var req model.Request
	if err := json.Unmarshal(requestBytes, &req); err != nil {
		return h.encode(model.NewParseError(err.Error()))
	}

	// 2. バージョン確認
	if req.JSONRPC != model.JSONRPCVersion {
		return h.encode(model.NewInvalidRequest(req.ID, "jsonrpc must be 2.0"))
	}

	// 3. method確認
	if req.Method == "" {
		return h.encode(model.NewInvalidRequest(req.ID, "method is required"))
	}

	// 4. 通知には応答しない
	if req.IsNotification() {
		if !strings.HasPrefix(req.Method, "notifications/") {
			_, _ = h.dispatch(ctx, req.Method, req.Params)
		}
		h.logger.Debug("notification received", "method", req.Method)
		return nil
	}

	// 5. ディスパッチ
	result, err := h.dispatch(ctx, req.Method, req.Params)
	if err != nil {
		return h.encode(h.mapError(req.ID, err))
	}

	// 6. 成功レスポンス
	return h.encode(model.NewResponse(req.ID, result))
}

// dispatch はメソッドに応じて適切なハンドラーを呼び出す
func (h *Handler) dispatch(ctx context.Context, method string, params any) (any, error) {
	switch method {
	case model.MethodInitialize:
		return h.handleInitialize(ctx, params)
	case model.MethodPing:
		return struct{}{}, nil
	case model.MethodToolsList:
		return h.handleToolsList(ctx, params)
	case model.MethodToolsCall:
		return h.handleToolsCall(ctx, params)
	default:
		return nil, &methodNotFoundError{method: method}
	}
}

// mapError はエラーをJSON-RPCエラーに変換
func (h *Handler) mapError(id any, err error) *model.ErrorResponse {
	var mnfErr *methodNotFoundError
	if errors.As(err, &mnfErr) {
		return model.NewMethodNotFound(id, mnfErr.method)
	}

	var paramsErr *invalidParamsError
	if errors.As(err, &paramsErr) {
		return model.NewInvalidParams(id, paramsErr.Error())
	}

	return model.NewInternalError(id, err.Error())
}

func (h *Handler) encode(resp any) []byte {
	b, _ := json.Marshal(resp)
	return b
}

// mapParams はparams（map等）を構造体に詰め替える
func mapParams(params any, v any) error {
	if params == nil {
		return nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return &invalidParamsError{err: err}
	}
	if err := json.Unmarshal(b, v); err != nil {
		return &invalidParamsError{err: err}
	}
	return nil
}

// methodNotFoundError はメソッド未検出エラー
type methodNotFoundError struct {
	method string
}

func (e *methodNotFoundError) Error() string {
	return "method not found: " + e.method
}

// invalidParamsError はparamsの形式エラー
type invalidParamsError struct {
	err error
}

func (e *invalidParamsError) Error() string {
	return "invalid params: " + e.err.Error()
}

func (e *invalidParamsError) Unwrap() error {
	return e.err
}
