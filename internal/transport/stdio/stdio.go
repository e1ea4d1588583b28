// Package stdio implements the newline-delimited JSON-RPC transport used
// when a tool server is spawned as a subprocess.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// MaxBufferSize は1行（1メッセージ）の既定の上限（1MB）
const MaxBufferSize = 1024 * 1024

// ErrLineTooLong は上限を超える行を受け取った
var ErrLineTooLong = errors.New("stdio: message exceeds line limit")

// Handler はJSON-RPCリクエストを処理するインターフェース
// 通知に対してはnilを返す
type Handler interface {
	Handle(ctx context.Context, requestBytes []byte) []byte
}

// Server はstdio JSON-RPCサーバー
// stdoutはプロトコル専用なので、ログはloggerにだけ書く
type Server struct {
	handler  Handler
	reader   io.Reader
	writer   io.Writer
	maxLine  int
	logger   *slog.Logger
	requests int
}

// Option はサーバーオプション
type Option func(*Server)

// WithReader はreaderを設定（テスト用）
func WithReader(r io.Reader) Option {
	return func(s *Server) {
		s.reader = r
	}
}

// WithWriter はwriterを設定（テスト用）
func WithWriter(w io.Writer) Option {
	return func(s *Server) {
		s.writer = w
	}
}

// WithMaxLineSize は1行の上限バイト数を設定
func WithMaxLineSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLine = n
		}
	}
}

// WithLogger はロガーを設定
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New は新しいServerを生成
func New(handler Handler, opts ...Option) *Server {
	s := &Server{
		handler: handler,
		reader:  os.Stdin,
		writer:  os.Stdout,
		maxLine: MaxBufferSize,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type line struct {
	data []byte
	err  error
}

// readLines は別goroutineで行を読み、chに送る
// 読み取りの終了（EOFはerr=nil）で最後に1件送ってcloseする
func (s *Server) readLines(ctx context.Context, ch chan<- line) {
	defer close(ch)

	scanner := bufio.NewScanner(s.reader)
	// Scannerはcap(buf)とmaxの大きい方を上限にするので、初期容量も上限以下にする
	scanner.Buffer(make([]byte, 0, min(64*1024, s.maxLine)), s.maxLine)
	for scanner.Scan() {
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		select {
		case ch <- line{data: bytes.Clone(data)}:
		case <-ctx.Done():
			return
		}
	}

	err := scanner.Err()
	if errors.Is(err, bufio.ErrTooLong) {
		err = fmt.Errorf("%w (%d bytes)", ErrLineTooLong, s.maxLine)
	}
	select {
	case ch <- line{err: err}:
	case <-ctx.Done():
	}
}

// Run はEOFまでリクエストを1行ずつ処理する
// EOFではnil、contextのキャンセルではctx.Err()を返す
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan line)
	go s.readLines(ctx, lines)

	s.logger.Info("stdio server started")
	for {
		var ln line
		var ok bool
		select {
		case <-ctx.Done():
			s.logger.Info("stdio server stopped", "requests", s.requests, "reason", ctx.Err())
			return ctx.Err()
		case ln, ok = <-lines:
		}

		if !ok || (ln.data == nil && ln.err == nil) {
			s.logger.Info("stdio input closed", "requests", s.requests)
			return nil
		}
		if ln.err != nil {
			s.logger.Error("stdio read failed", "error", ln.err)
			return ln.err
		}

		s.requests++
		response := s.handler.Handle(ctx, ln.data)
		if response == nil {
			continue
		}
		if err := s.write(response); err != nil {
			s.logger.Error("stdio write failed", "error", err)
			return err
		}
	}
}

// write はレスポンスを改行付きの1回の書き込みで出力する
func (s *Server) write(response []byte) error {
	frame := make([]byte, 0, len(response)+1)
	frame = append(frame, response...)
	frame = append(frame, '\n')
	_, err := s.writer.Write(frame)
	return err
}
