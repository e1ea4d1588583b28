package mcpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/brbranch/parmira/internal/transport/stdio"
)

// closeWait はClose時にサブプロセスの終了を待つ時間
const closeWait = 2 * time.Second

// StdioTransport は改行区切りJSON-RPCをパイプでやり取りする
// 複数のgoroutineから同時に呼び出してよい
type StdioTransport struct {
	w       io.WriteCloser
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan []byte
	closed  bool
	readErr error
	done    chan struct{}

	cmd *exec.Cmd
}

// NewStdioTransport はreader/writerの組からトランスポートを作り、読み取りを開始する
func NewStdioTransport(r io.Reader, w io.WriteCloser) *StdioTransport {
	t := &StdioTransport{
		w:       w,
		pending: make(map[string]chan []byte),
		done:    make(chan struct{}),
	}
	go t.readLoop(r)
	return t
}

// SpawnStdio はコマンドを起動し、その標準入出力につないだClientを返す
func SpawnStdio(argv []string, stderr io.Writer) (*Client, error) {
	if len(argv) == 0 {
		return nil, errors.New("stdio server command is empty")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	t := NewStdioTransport(stdout, stdin)
	t.cmd = cmd
	return New(t), nil
}

// idKey はJSONのidをそのまま対応付けのキーにする
func idKey(message []byte) (string, error) {
	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		return "", err
	}
	return string(envelope.ID), nil
}

func (t *StdioTransport) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(64*1024, stdio.MaxBufferSize)), stdio.MaxBufferSize)

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		key, err := idKey(line)
		if err != nil {
			continue
		}
		t.deliver(key, line)
	}

	t.mu.Lock()
	t.readErr = scanner.Err()
	if t.readErr == nil {
		t.readErr = io.EOF
	}
	t.mu.Unlock()
	close(t.done)
}

func (t *StdioTransport) deliver(key string, line []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.pending[key]
	if !ok && (key == "" || key == "null") && len(t.pending) == 1 {
		// パースエラー等でidが返らない場合、待っているのが1件だけならそれに渡す
		for k, only := range t.pending {
			key, ch, ok = k, only, true
		}
	}
	if !ok {
		return
	}
	delete(t.pending, key)
	ch <- line
}

// RoundTrip はメッセージを書き込み、同じidのレスポンスを待つ
func (t *StdioTransport) RoundTrip(ctx context.Context, message []byte) ([]byte, error) {
	key, err := idKey(message)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	notification := key == "" || key == "null"

	var ch chan []byte
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if !notification {
		ch = make(chan []byte, 1)
		t.pending[key] = ch
	}
	t.mu.Unlock()

	if err := t.write(message); err != nil {
		t.forget(key)
		return nil, err
	}
	if notification {
		return nil, nil
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		t.forget(key)
		return nil, ctx.Err()
	case <-t.done:
		t.forget(key)
		// 終了直前に届いたレスポンスを優先する
		select {
		case resp := <-ch:
			return resp, nil
		default:
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.closed {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("mcp server stream ended: %w", t.readErr)
	}
}

func (t *StdioTransport) write(message []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.w.Write(message); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}
	if _, err := t.w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}
	return nil
}

func (t *StdioTransport) forget(key string) {
	t.mu.Lock()
	delete(t.pending, key)
	t.mu.Unlock()
}

// Close は入力を閉じ、サブプロセスがあれば終了を待つ（待ちきれなければkill）
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err := t.w.Close()
	if t.cmd == nil {
		return err
	}

	exited := make(chan error, 1)
	go func() { exited <- t.cmd.Wait() }()
	select {
	case <-exited:
	case <-time.After(closeWait):
		t.cmd.Process.Kill()
		<-exited
	}
	return err
}
