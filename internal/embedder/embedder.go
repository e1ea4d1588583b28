// Package embedder turns text into dense vectors for the long-term memory store.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Embedder はテキストから埋め込みベクトルを生成するインターフェース
type Embedder interface {
	// Embed はテキストを埋め込みベクトルに変換する
	Embed(ctx context.Context, text string) ([]float32, error)

	// GetDimension はこのEmbedderが生成するベクトルの次元数を返す
	// 初回埋め込み前（dim未確定時）は 0 を返す
	GetDimension() int
}

// DimUpdater は次元数が確定した際に呼び出されるコールバック
type DimUpdater interface {
	UpdateDim(dim int) error
}

// エラー定義
var (
	ErrAPIKeyRequired   = errors.New("api key is required")
	ErrAPIRequestFailed = errors.New("API request failed")
	ErrInvalidResponse  = errors.New("invalid API response")
	ErrEmptyEmbedding   = errors.New("empty embedding returned")
	ErrUnknownProvider  = errors.New("unknown embedder provider")
)

// ErrEmptyText は空テキストの埋め込み要求（ErrEmptyEmbeddingとしても判定できる）
var ErrEmptyText = fmt.Errorf("%w: text is empty", ErrEmptyEmbedding)

// APIError は詳細なAPIエラー情報を保持
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrAPIRequestFailed
}

// dimension はリモートEmbedderの次元を初回応答から確定させる
type dimension struct {
	mu      sync.Mutex
	value   int
	updater DimUpdater
}

func (d *dimension) get() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}

// observe は未確定の場合のみ次元を記録し、updaterに通知する
func (d *dimension) observe(n int) {
	d.mu.Lock()
	if d.value != 0 {
		d.mu.Unlock()
		return
	}
	d.value = n
	updater := d.updater
	d.mu.Unlock()

	if updater != nil {
		if err := updater.UpdateDim(n); err != nil {
			slog.Warn("failed to update embedding dim", "dim", n, "error", err)
		}
	}
}
