package stdio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brbranch/parmira/internal/model"
)

// echoHandler はmethodに応じた結果を返すテスト用ハンドラー
// 受け取ったリクエストを記録する
type echoHandler struct {
	mu       sync.Mutex
	results  map[string]any
	received []string
}

func newEchoHandler() *echoHandler {
	return &echoHandler{results: map[string]any{
		"ping": map[string]any{},
	}}
}

func (h *echoHandler) Handle(ctx context.Context, requestBytes []byte) []byte {
	h.mu.Lock()
	h.received = append(h.received, string(requestBytes))
	h.mu.Unlock()

	var req model.Request
	if err := json.Unmarshal(requestBytes, &req); err != nil {
		b, _ := json.Marshal(model.NewParseError(err.Error()))
		return b
	}
	if req.IsNotification() {
		return nil
	}
	result, ok := h.results[req.Method]
	if !ok {
		b, _ := json.Marshal(model.NewMethodNotFound(req.ID, req.Method))
		return b
	}
	b, _ := json.Marshal(model.NewResponse(req.ID, result))
	return b
}

func run(t *testing.T, h Handler, input string, opts ...Option) ([]string, error) {
	t.Helper()
	var output bytes.Buffer
	opts = append([]Option{WithReader(strings.NewReader(input)), WithWriter(&output)}, opts...)
	err := New(h, opts...).Run(context.Background())

	out := strings.TrimSpace(output.String())
	if out == "" {
		return nil, err
	}
	return strings.Split(out, "\n"), err
}

func TestServer_Run(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantLines int
		wantCode  int // 0なら成功レスポンス
	}{
		{
			name:      "single request",
			input:     `{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n",
			wantLines: 1,
		},
		{
			name: "multiple requests",
			input: `{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n" +
				`{"jsonrpc":"2.0","id":2,"method":"ping"}` + "\n",
			wantLines: 2,
		},
		{
			name:      "blank lines are skipped",
			input:     "\n   \n" + `{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n\n",
			wantLines: 1,
		},
		{
			name:      "last line without newline",
			input:     `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
			wantLines: 1,
		},
		{
			name: "notification gets no response",
			input: `{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
				`{"jsonrpc":"2.0","id":7,"method":"ping"}` + "\n",
			wantLines: 1,
		},
		{
			name:      "invalid json",
			input:     "{invalid json}\n",
			wantLines: 1,
			wantCode:  model.ErrCodeParseError,
		},
		{
			name:      "unknown method",
			input:     `{"jsonrpc":"2.0","id":1,"method":"unknown.method"}` + "\n",
			wantLines: 1,
			wantCode:  model.ErrCodeMethodNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, err := run(t, newEchoHandler(), tt.input)
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if len(lines) != tt.wantLines {
				t.Fatalf("expected %d lines, got %d: %q", tt.wantLines, len(lines), lines)
			}

			var resp model.RawResponse
			if err := json.Unmarshal([]byte(lines[len(lines)-1]), &resp); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if tt.wantCode == 0 {
				if resp.Error != nil {
					t.Errorf("unexpected error response: %v", resp.Error)
				}
				return
			}
			if resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Errorf("expected error code %d, got %+v", tt.wantCode, resp.Error)
			}
		})
	}
}

func TestServer_Run_TrimsRequestLine(t *testing.T) {
	h := newEchoHandler()
	if _, err := run(t, h, "  "+`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\t\r\n"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(h.received) != 1 || h.received[0] != `{"jsonrpc":"2.0","id":1,"method":"ping"}` {
		t.Errorf("unexpected request bytes: %q", h.received)
	}
}

// 改行を含む結果もエスケープされて1行になる
func TestServer_Run_MultilineText(t *testing.T) {
	h := newEchoHandler()
	h.results["tools/call"] = map[string]any{"text": "line1\nline2\nline3"}

	lines, err := run(t, h, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"fetch_all_memories"}}`+"\n")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), lines)
	}
	if !strings.Contains(lines[0], `line1\nline2`) {
		t.Errorf("expected escaped newlines, got %s", lines[0])
	}
}

func TestServer_Run_EOF(t *testing.T) {
	lines, err := run(t, newEchoHandler(), "")
	if err != nil {
		t.Errorf("expected nil error on EOF, got %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("expected no output, got %q", lines)
	}
}

func TestServer_Run_LineLimit(t *testing.T) {
	request := `{"jsonrpc":"2.0","id":1,"method":"ping","params":{"pad":"` + strings.Repeat("a", 200) + `"}}`

	t.Run("under limit", func(t *testing.T) {
		lines, err := run(t, newEchoHandler(), request+"\n", WithMaxLineSize(1024))
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if len(lines) != 1 {
			t.Errorf("expected 1 line, got %d", len(lines))
		}
	})

	t.Run("over limit", func(t *testing.T) {
		_, err := run(t, newEchoHandler(), request+"\n", WithMaxLineSize(64))
		if !errors.Is(err, ErrLineTooLong) {
			t.Errorf("expected ErrLineTooLong, got %v", err)
		}
	})

	t.Run("default limit", func(t *testing.T) {
		huge := `{"jsonrpc":"2.0","id":1,"method":"ping","params":{"pad":"` + strings.Repeat("a", MaxBufferSize) + `"}}`
		_, err := run(t, newEchoHandler(), huge+"\n")
		if !errors.Is(err, ErrLineTooLong) {
			t.Errorf("expected ErrLineTooLong, got %v", err)
		}
	})
}

// blockingReader はコンテキストキャンセルまでブロックするReader
type blockingReader struct {
	ctx context.Context
}

func (r *blockingReader) Read(p []byte) (int, error) {
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

func TestServer_Run_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := New(newEchoHandler(), WithReader(&blockingReader{ctx: ctx}), WithWriter(io.Discard))

	done := make(chan error, 1)
	go func() {
		done <- server.Run(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for server to stop")
	}
}

// 読み取りがブロックしていてもキャンセルで戻る
func TestServer_Run_CancelWhileReadBlocks(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	server := New(newEchoHandler(), WithReader(pr), WithWriter(io.Discard))

	done := make(chan error, 1)
	go func() {
		done <- server.Run(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for server to stop")
	}
}

// errorWriter は書き込みエラーを返すWriter
type errorWriter struct {
	err error
}

func (w *errorWriter) Write(p []byte) (int, error) {
	return 0, w.err
}

func TestServer_Run_WriteError(t *testing.T) {
	server := New(newEchoHandler(),
		WithReader(strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")),
		WithWriter(&errorWriter{err: io.ErrClosedPipe}))

	if err := server.Run(context.Background()); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("expected io.ErrClosedPipe, got %v", err)
	}
}

// countingWriter はWrite呼び出しごとの内容を記録する
type countingWriter struct {
	writes []string
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes = append(w.writes, string(p))
	return len(p), nil
}

// 1レスポンスは改行込みで1回のWriteになる
func TestServer_Run_SingleWritePerResponse(t *testing.T) {
	w := &countingWriter{}
	server := New(newEchoHandler(),
		WithReader(strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n"+`{"jsonrpc":"2.0","id":2,"method":"ping"}`+"\n")),
		WithWriter(w))

	if err := server.Run(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(w.writes) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(w.writes))
	}
	for _, s := range w.writes {
		if !strings.HasSuffix(s, "}\n") || strings.Count(s, "\n") != 1 {
			t.Errorf("unexpected frame: %q", s)
		}
	}
}
