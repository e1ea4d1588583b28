// Package http implements the HTTP transport for parmira tool servers.
//
// POST /rpc takes JSON-RPC 2.0 requests. When a tool caller is configured,
// every tool is also reachable as POST /<tool name> with the arguments as
// the JSON body, answering with the tool's own HTTP status.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/brbranch/parmira/internal/tools"
)

const (
	// DefaultAddr はAddr未設定時のlistenアドレス
	DefaultAddr = "127.0.0.1:8000"
	// MaxBodySize はリクエストボディの上限（1MB）
	MaxBodySize = 1024 * 1024

	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Handler はJSON-RPCリクエストを処理する
// 通知に対してはnilを返す
type Handler interface {
	Handle(ctx context.Context, requestBytes []byte) []byte
}

// ToolCaller はレガシーRESTルートから呼ばれるツール実行
type ToolCaller interface {
	Call(ctx context.Context, name string, args map[string]any) (*tools.Result, error)
}

// Config はHTTPサーバー設定
type Config struct {
	Addr        string     // listen address (例: "127.0.0.1:8001")
	CORSOrigins []string   // 許可するオリジンリスト、空ならCORS無効
	Tools       ToolCaller // nilならレガシーRESTルートを無効にする
	Logger      *slog.Logger
}

// Server はHTTP JSON-RPCサーバー
type Server struct {
	handler Handler
	config  Config
	srv     *http.Server
	logger  *slog.Logger
}

// New は新しいServerを生成
func New(handler Handler, config Config) *Server {
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		handler: handler,
		config:  config,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/health", s.handleHealth)
	if config.Tools != nil {
		mux.HandleFunc("/", s.handleREST)
	}

	s.srv = &http.Server{
		Addr:              config.Addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Handler はルーティング済みのhttp.Handlerを返す（テスト用）
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run はサーバーを起動し、contextがキャンセルされるまで実行
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve は指定のlistenerで待ち受ける
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// contextキャンセル時にShutdownを呼ぶ
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	err := s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		// Graceful shutdownはエラーではない
		return nil
	}
	return err
}

// readJSONBody はCORS・メソッド・Content-Type・サイズを確認してボディを返す
// 失敗時はレスポンスを書き込んでfalseを返す
func (s *Server) readJSONBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	// CORS処理
	s.handleCORS(w, r)

	// Preflightリクエスト
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return nil, false
	}

	// POSTのみ許可
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}

	// Content-Type確認
	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		http.Error(w, "Unsupported Media Type", http.StatusUnsupportedMediaType)
		return nil, false
	}

	// リクエストボディ読み取り
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

// handleRPC はJSON-RPCリクエストを処理
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readJSONBody(w, r)
	if !ok {
		return
	}

	// JSON-RPC処理
	respBytes := s.handler.Handle(r.Context(), body)
	if respBytes == nil {
		// 通知
		w.WriteHeader(http.StatusAccepted)
		return
	}

	// レスポンス送信
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(respBytes)
}

// handleREST は POST /<tool> をツール呼び出しとして処理
func (s *Server) handleREST(w http.ResponseWriter, r *http.Request) {
	name := strings.Trim(r.URL.Path, "/")
	if name == "" || strings.Contains(name, "/") {
		http.NotFound(w, r)
		return
	}

	body, ok := s.readJSONBody(w, r)
	if !ok {
		return
	}

	args := map[string]any{}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": "Invalid JSON body: " + err.Error()})
			return
		}
	}

	result, err := s.config.Tools.Call(r.Context(), name, args)
	if errors.Is(err, tools.ErrUnknownTool) {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not Found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": err.Error()})
		return
	}
	writeJSON(w, result.Code, result.Body())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.handleCORS(w, r)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// corsMaxAge はpreflight結果をブラウザがキャッシュする秒数
const corsMaxAge = "600"

// allowOrigin はoriginが設定で許可されているかを返す（"*"はすべて許可）
func (s *Server) allowOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	return slices.ContainsFunc(s.config.CORSOrigins, func(o string) bool {
		return o == "*" || o == origin
	})
}

// handleCORS は許可されたoriginにだけCORSヘッダーを付ける
// CORSOriginsが空なら何もしない
func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Vary", "Origin")
	origin := r.Header.Get("Origin")
	if !s.allowOrigin(origin) {
		return
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		h.Set("Access-Control-Max-Age", corsMaxAge)
	}
}
