package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/brbranch/parmira/internal/model"
)

const (
	// DefaultChromaURL はデフォルトのChromaサーバーURL
	DefaultChromaURL = "http://localhost:8000"
	// DefaultChromaTenant はデフォルトのテナント
	DefaultChromaTenant = "default_tenant"
	// DefaultChromaDatabase はデフォルトのデータベース
	DefaultChromaDatabase = "default_database"

	chromaTimeout = 30 * time.Second
	// metaCreatedAt はcreatedAtを保存するmetadataキー
	metaCreatedAt = "_created_at"
)

// ChromaStore はChroma REST API (v2) を使用したStore実装
type ChromaStore struct {
	httpClient   *http.Client
	baseURL      string
	tenant       string
	database     string
	mu           sync.RWMutex
	collection   string
	collectionID string
	dim          int
}

// ChromaOption はChromaStoreのオプション
type ChromaOption func(*ChromaStore)

// WithChromaTenant はテナントとデータベースを設定
func WithChromaTenant(tenant, database string) ChromaOption {
	return func(s *ChromaStore) {
		if tenant != "" {
			s.tenant = tenant
		}
		if database != "" {
			s.database = database
		}
	}
}

// WithChromaHTTPClient はHTTPクライアントを設定
func WithChromaHTTPClient(client *http.Client) ChromaOption {
	return func(s *ChromaStore) {
		s.httpClient = client
	}
}

// NewChromaStore はChromaStoreを作成する
func NewChromaStore(baseURL string, opts ...ChromaOption) (*ChromaStore, error) {
	if baseURL == "" {
		baseURL = DefaultChromaURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	s := &ChromaStore{
		httpClient: &http.Client{Timeout: chromaTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		tenant:     DefaultChromaTenant,
		database:   DefaultChromaDatabase,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// chromaError はChromaのエラー応答
type chromaError struct {
	StatusCode int
	Body       string
}

func (e *chromaError) Error() string {
	return fmt.Sprintf("chroma error (status %d): %s", e.StatusCode, e.Body)
}

func (e *chromaError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// do はJSONリクエストを送りレスポンスをoutにデコードする
func (s *ChromaStore) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &chromaError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode chroma response: %w", err)
	}
	return nil
}

func (s *ChromaStore) collectionsPath() string {
	return fmt.Sprintf("/api/v2/tenants/%s/databases/%s/collections",
		url.PathEscape(s.tenant), url.PathEscape(s.database))
}

// collectionPath は初期化済みコレクションのエンドポイントを返す
func (s *ChromaStore) collectionPath(suffix string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.collectionID == "" {
		return "", ErrNotInitialized
	}
	return s.collectionsPath() + "/" + url.PathEscape(s.collectionID) + suffix, nil
}

// Initialize はコレクションを取得または作成する（cosine距離）
func (s *ChromaStore) Initialize(ctx context.Context, collection string, dim int) error {
	var resp struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	err := s.do(ctx, http.MethodPost, s.collectionsPath(), map[string]any{
		"name":          collection,
		"get_or_create": true,
		"metadata":      map[string]any{"hnsw:space": "cosine"},
	}, &resp)
	if err != nil {
		return fmt.Errorf("failed to get or create collection %q: %w", collection, err)
	}
	if resp.ID == "" {
		return fmt.Errorf("failed to get or create collection %q: empty id", collection)
	}

	s.mu.Lock()
	s.collection = collection
	s.collectionID = resp.ID
	s.dim = dim
	s.mu.Unlock()
	return nil
}

// Close はストアをクローズする
func (s *ChromaStore) Close() error {
	s.mu.Lock()
	s.collectionID = ""
	s.mu.Unlock()
	return nil
}

// toChromaMetadata はcreatedAtを含めたmetadataを作る（Chromaは空のmetadataを受け付けない）
func toChromaMetadata(doc *model.Document) map[string]any {
	meta := make(map[string]any, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta[metaCreatedAt] = *doc.CreatedAt
	return meta
}

func fromChromaMetadata(id, text string, meta map[string]any) *model.Document {
	doc := &model.Document{ID: id, Text: text}
	for k, v := range meta {
		str := fmt.Sprint(v)
		if k == metaCreatedAt {
			doc.CreatedAt = &str
			continue
		}
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]string)
		}
		doc.Metadata[k] = str
	}
	return doc
}

// Add は文書を追加する（同じIDは上書き）
func (s *ChromaStore) Add(ctx context.Context, doc *model.Document, embedding []float32) error {
	path, err := s.collectionPath("/upsert")
	if err != nil {
		return err
	}
	s.mu.RLock()
	dim := s.dim
	s.mu.RUnlock()
	if dim > 0 && len(embedding) != dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dim, len(embedding))
	}

	ensureCreatedAt(doc)
	err = s.do(ctx, http.MethodPost, path, map[string]any{
		"ids":        []string{doc.ID},
		"embeddings": [][]float32{embedding},
		"documents":  []string{doc.Text},
		"metadatas":  []map[string]any{toChromaMetadata(doc)},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

// chromaGetResponse は /get の応答
type chromaGetResponse struct {
	IDs       []string         `json:"ids"`
	Documents []*string        `json:"documents"`
	Metadatas []map[string]any `json:"metadatas"`
}

func (r *chromaGetResponse) documents() []*model.Document {
	docs := make([]*model.Document, 0, len(r.IDs))
	for i, id := range r.IDs {
		var text string
		if i < len(r.Documents) && r.Documents[i] != nil {
			text = *r.Documents[i]
		}
		var meta map[string]any
		if i < len(r.Metadatas) {
			meta = r.Metadatas[i]
		}
		docs = append(docs, fromChromaMetadata(id, text, meta))
	}
	return docs
}

func (s *ChromaStore) get(ctx context.Context, body map[string]any) ([]*model.Document, error) {
	path, err := s.collectionPath("/get")
	if err != nil {
		return nil, err
	}
	body["include"] = []string{"documents", "metadatas"}

	var resp chromaGetResponse
	if err := s.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return resp.documents(), nil
}

// Get はIDで文書を取得する
func (s *ChromaStore) Get(ctx context.Context, id string) (*model.Document, error) {
	docs, err := s.get(ctx, map[string]any{"ids": []string{id}})
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// Delete はIDで文書を削除する
func (s *ChromaStore) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	path, err := s.collectionPath("/delete")
	if err != nil {
		return err
	}
	if err := s.do(ctx, http.MethodPost, path, map[string]any{"ids": []string{id}}, nil); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// chromaWhere はChromaのwhere句を組み立てる（複数キーは$and）
func chromaWhere(where map[string]string) map[string]any {
	if len(where) == 0 {
		return nil
	}
	if len(where) == 1 {
		for k, v := range where {
			return map[string]any{k: v}
		}
	}
	clauses := make([]map[string]any, 0, len(where))
	for k, v := range where {
		clauses = append(clauses, map[string]any{k: v})
	}
	return map[string]any{"$and": clauses}
}

// Query はベクトル検索を実行する
func (s *ChromaStore) Query(ctx context.Context, embedding []float32, opts QueryOptions) ([]QueryResult, error) {
	path, err := s.collectionPath("/query")
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"query_embeddings": [][]float32{embedding},
		"n_results":        opts.topK(),
		"include":          []string{"documents", "metadatas", "distances"},
	}
	if where := chromaWhere(opts.Where); where != nil {
		body["where"] = where
	}

	var resp struct {
		IDs       [][]string         `json:"ids"`
		Documents [][]*string        `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float64        `json:"distances"`
	}
	if err := s.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}

	page := chromaGetResponse{IDs: resp.IDs[0]}
	if len(resp.Documents) > 0 {
		page.Documents = resp.Documents[0]
	}
	if len(resp.Metadatas) > 0 {
		page.Metadatas = resp.Metadatas[0]
	}

	docs := page.documents()
	results := make([]QueryResult, 0, len(docs))
	for i, doc := range docs {
		distance := 2.0
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			distance = resp.Distances[0][i]
		}
		results = append(results, QueryResult{
			Document: doc,
			Score:    DistanceToScore(distance),
		})
	}
	return sortByScore(results, opts.topK()), nil
}

// ListRecent は最新の文書を返す
// Chromaは並び順を保証しないため全件を取得してソートする
func (s *ChromaStore) ListRecent(ctx context.Context, limit int) ([]*model.Document, error) {
	docs, err := s.get(ctx, map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	sortRecent(docs)
	if limit = listLimit(limit); len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// Count は文書数を返す
func (s *ChromaStore) Count(ctx context.Context) (int, error) {
	path, err := s.collectionPath("/count")
	if err != nil {
		return 0, err
	}
	var count int
	if err := s.do(ctx, http.MethodGet, path, nil, &count); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}
