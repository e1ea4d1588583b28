package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/brbranch/parmira/internal/model"
)

// MemoryStore はインメモリStore実装（テスト・store.type=memory用）
type MemoryStore struct {
	mu          sync.RWMutex
	docs        map[string]*docEntry // key: doc.ID
	collection  string
	dim         int
	initialized bool
}

type docEntry struct {
	doc       *model.Document
	embedding []float32
}

// NewMemoryStore はMemoryStoreを作成する
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*docEntry),
	}
}

// Initialize はストアを初期化する
func (s *MemoryStore) Initialize(ctx context.Context, collection string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.collection = collection
	s.dim = dim
	s.initialized = true
	return nil
}

// Close はストアをクローズする
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs = make(map[string]*docEntry)
	s.initialized = false
	return nil
}

// Add は文書を追加する（同じIDは上書き）
func (s *MemoryStore) Add(ctx context.Context, doc *model.Document, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if s.dim > 0 && len(embedding) != s.dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.dim, len(embedding))
	}

	ensureCreatedAt(doc)
	emb := make([]float32, len(embedding))
	copy(emb, embedding)
	s.docs[doc.ID] = &docEntry{doc: copyDocument(doc), embedding: emb}
	return nil
}

// Get はIDで文書を取得する
func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	entry, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDocument(entry.doc), nil
}

// Delete はIDで文書を削除する
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if _, ok := s.docs[id]; !ok {
		return ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

// Query はベクトル検索を実行する
func (s *MemoryStore) Query(ctx context.Context, embedding []float32, opts QueryOptions) ([]QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}

	var results []QueryResult
	for _, entry := range s.docs {
		if !MatchesWhere(entry.doc.Metadata, opts.Where) {
			continue
		}
		results = append(results, QueryResult{
			Document: copyDocument(entry.doc),
			Score:    DistanceToScore(CosineDistance(embedding, entry.embedding)),
		})
	}
	return sortByScore(results, opts.topK()), nil
}

// ListRecent は最新の文書を返す
func (s *MemoryStore) ListRecent(ctx context.Context, limit int) ([]*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}

	docs := make([]*model.Document, 0, len(s.docs))
	for _, entry := range s.docs {
		docs = append(docs, copyDocument(entry.doc))
	}
	sortRecent(docs)

	if limit = listLimit(limit); len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// Count は文書数を返す
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return 0, ErrNotInitialized
	}
	return len(s.docs), nil
}
