// Package logging builds per-component slog loggers.
//
// Each logger fans out to stderr, a rotating file under the log directory and,
// when enabled, the systemd journal.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/brbranch/parmira/internal/model"
)

// コンポーネント名
const (
	ComponentTerminal = "TerminalAgent"
	ComponentMemory   = "MemoryAgent"
	ComponentRAG      = "RAGAgent"
	ComponentIndexer  = "Indexer"
	ComponentServer   = "MCPServer"
)

// ローテーション設定
const (
	maxSizeMB  = 5
	maxBackups = 3
)

var level = new(slog.LevelVar)

// systemdサービスとして動いている場合はターミナル出力を省く
var runningAsService = isSystemdService

var (
	mu    sync.Mutex
	files = map[string]*lumberjack.Logger{}
)

// SetLevel はすべてのロガーで共有されるログレベルを設定する
func SetLevel(s string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", s, err)
	}
	level.Set(l)
	return nil
}

// New はコンポーネント用のロガーを作る
func New(cfg model.LogConfig, component string) *slog.Logger {
	return NewWithWriter(cfg, component, os.Stderr)
}

// NewWithWriter はターミナル出力先を指定してロガーを作る
func NewWithWriter(cfg model.LogConfig, component string, w io.Writer) *slog.Logger {
	if cfg.Level != "" {
		if err := SetLevel(cfg.Level); err != nil {
			slog.Warn("ignore log level", "error", err)
		}
	}

	var handlers []slog.Handler

	// terminal
	var terminalHandler slog.Handler
	if cfg.Stderr && w != nil && !runningAsService() {
		terminalHandler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level,
		})
		handlers = append(handlers, terminalHandler)
	}

	// rotating file
	if cfg.Dir != "" {
		if fw := fileWriter(cfg.Dir, component); fw != nil {
			handlers = append(handlers, slog.NewJSONHandler(fw, &slog.HandlerOptions{
				Level: level,
			}))
		}
	}

	// systemd journal
	if cfg.Journal {
		journalHandler, err := slogjournal.NewHandler(&slogjournal.Options{
			ReplaceGroup: func(key string) string {
				return toJournalKey(key)
			},
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err != nil {
			if terminalHandler != nil {
				record := slog.NewRecord(time.Now(), slog.LevelWarn, "new systemd journal handler", 0)
				record.Add("error", err)
				_ = terminalHandler.Handle(context.Background(), record)
			}
		} else {
			handlers = append(handlers, journalHandler)
		}
	}

	if len(handlers) == 0 {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slogmulti.Fanout(handlers...)).With("component", component)
}

// FileName はコンポーネントのログファイル名を返す
// "TerminalAgent" -> "terminal.log"
func FileName(component string) string {
	name := strings.ToLower(strings.TrimSuffix(component, "Agent"))
	if name == "" {
		name = "parmira"
	}
	return name + ".log"
}

// fileWriter は同じファイルに対するlumberjackを1つに保つ
func fileWriter(dir, component string) io.Writer {
	filename := filepath.Join(dir, FileName(component))

	mu.Lock()
	defer mu.Unlock()

	if fw, ok := files[filename]; ok {
		return fw
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("failed to create log directory", "dir", dir, "error", err)
		return nil
	}
	fw := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}
	files[filename] = fw
	return fw
}

// Close は開いているログファイルをすべて閉じる
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	var firstErr error
	for name, fw := range files {
		if err := fw.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(files, name)
	}
	return firstErr
}

func toJournalKey(str string) string {
	str = strings.ToUpper(str)
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' ||
			r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, str)
}

func isSystemdService() bool {
	content, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return false
	}
	parts := strings.Split(strings.TrimSpace(string(content)), ":")
	if len(parts) < 3 {
		return false
	}
	return strings.HasSuffix(path.Dir(parts[2]), ".service")
}

// Preview はログ用に先頭n文字を切り出す
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
