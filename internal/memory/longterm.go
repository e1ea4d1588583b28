package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/brbranch/parmira/internal/embedder"
	"github.com/brbranch/parmira/internal/model"
	"github.com/brbranch/parmira/internal/store"
)

// DefaultLTMCollection はLTMのコレクション名
const DefaultLTMCollection = "semantic_memory"

// dimensionProbe は次元が不明なEmbedderに対して初期化時に埋め込むテキスト
const dimensionProbe = "parmira dimension probe"

// LongTerm はベクトルストアに保存される長期記憶
type LongTerm struct {
	store    store.Store
	embedder embedder.Embedder
}

// NewLongTerm はLongTermを作成する（Initializeが必要）
func NewLongTerm(st store.Store, emb embedder.Embedder) *LongTerm {
	return &LongTerm{store: st, embedder: emb}
}

// Initialize はコレクションを用意する
// Embedderの次元が未確定の場合は1回埋め込みを行って確定させる
func (l *LongTerm) Initialize(ctx context.Context, collection string) error {
	if collection == "" {
		collection = DefaultLTMCollection
	}

	dim := l.embedder.GetDimension()
	if dim == 0 {
		vec, err := l.embedder.Embed(ctx, dimensionProbe)
		if err != nil {
			return fmt.Errorf("failed to probe embedding dimension: %w", err)
		}
		dim = len(vec)
	}

	if err := l.store.Initialize(ctx, collection, dim); err != nil {
		return fmt.Errorf("failed to initialize collection %q: %w", collection, err)
	}
	return nil
}

// Store はテキストを埋め込んで保存し、文書IDを返す
func (l *LongTerm) Store(ctx context.Context, text string, metadata map[string]string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyContent
	}

	id := uuid.New().String()
	if err := l.Put(ctx, id, text, metadata); err != nil {
		return "", err
	}
	return id, nil
}

// Put は呼び出し側が決めたIDで保存する（同じIDは上書き）
func (l *LongTerm) Put(ctx context.Context, id, text string, metadata map[string]string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyContent
	}

	embedding, err := l.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed memory: %w", err)
	}

	doc := &model.Document{
		ID:       id,
		Text:     text,
		Metadata: metadata,
	}
	if err := l.store.Add(ctx, doc, embedding); err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}

// Search は意味的に近い記憶をtopK件返す
func (l *LongTerm) Search(ctx context.Context, query string, topK int) ([]store.QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return []store.QueryResult{}, nil
	}

	embedding, err := l.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := l.store.Query(ctx, embedding, store.QueryOptions{TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	if results == nil {
		results = []store.QueryResult{}
	}
	return results, nil
}

// Recent は最近保存された記憶を返す
func (l *LongTerm) Recent(ctx context.Context, limit int) ([]*model.Document, error) {
	return l.store.ListRecent(ctx, limit)
}

// Close はストアを閉じる
func (l *LongTerm) Close() error {
	return l.store.Close()
}
