package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/zeebo/blake3"

	"github.com/brbranch/parmira/internal/model"
)

const (
	// qdrantMetaPrefix はmetadataをフラットなpayloadキーに展開する際の接頭辞
	// Qdrantのフィルタでは "." がネストとして解釈されるため使わない
	qdrantMetaPrefix = "meta_"
	// qdrantScrollLimit はListRecentで取得する最大件数
	qdrantScrollLimit = 1000
)

// QdrantStore はQdrantを使用したStore実装
type QdrantStore struct {
	client      *qdrant.Client
	url         string
	collection  string
	dim         int
	initialized bool
	mu          sync.RWMutex // initializedフラグの保護
}

// NewQdrantStore はQdrantStoreを作成する
func NewQdrantStore(urlStr string) (*QdrantStore, error) {
	host, port, err := qdrantGRPCAddress(urlStr)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   host,
		Port:                   port,
		SkipCompatibilityCheck: true, // バージョンチェックをスキップ
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// 接続確認
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	return &QdrantStore{
		client: client,
		url:    urlStr,
	}, nil
}

// qdrantGRPCAddress はURLからgRPCのhost/portを取り出す
// gRPCポートはデフォルト6334（HTTPの6333が指定された場合は6334に読み替える）
func qdrantGRPCAddress(urlStr string) (string, int, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", 0, fmt.Errorf("failed to parse URL: %w", err)
	}

	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}

	port := 6334
	if portStr := parsedURL.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
		}
		if p != 6333 {
			port = p
		}
	}
	return host, port, nil
}

// sanitizeCollectionName はQdrantのコレクション名として使用できる文字列に変換する
func sanitizeCollectionName(name string) string {
	return strings.NewReplacer(":", "_", "/", "_").Replace(name)
}

// Initialize はコレクションを初期化する
func (s *QdrantStore) Initialize(ctx context.Context, collection string, dim int) error {
	if s.client == nil {
		return ErrConnectionFailed
	}
	if dim <= 0 {
		return fmt.Errorf("%w: qdrant requires a known dimension", ErrDimensionMismatch)
	}

	name := sanitizeCollectionName(collection)
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}

	s.mu.Lock()
	s.collection = name
	s.dim = dim
	s.initialized = true
	s.mu.Unlock()
	return nil
}

// Close はストアをクローズする
func (s *QdrantStore) Close() error {
	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

// target は初期化状態とコレクション名を安全に取得する
func (s *QdrantStore) target() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return "", ErrNotInitialized
	}
	return s.collection, nil
}

// Add は文書を追加する（同じIDは上書き）
func (s *QdrantStore) Add(ctx context.Context, doc *model.Document, embedding []float32) error {
	collection, err := s.target()
	if err != nil {
		return err
	}
	if len(embedding) != s.dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.dim, len(embedding))
	}

	ensureCreatedAt(doc)
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDNum(hashID(doc.ID)),
				Vectors: qdrant.NewVectors(embedding...),
				Payload: buildPayload(doc),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

// Get はIDで文書を取得する
func (s *QdrantStore) Get(ctx context.Context, id string) (*model.Document, error) {
	collection, err := s.target()
	if err != nil {
		return nil, err
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDNum(hashID(id))},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get point: %w", err)
	}
	if len(points) == 0 {
		return nil, ErrNotFound
	}
	return payloadToDocument(points[0].Payload), nil
}

// Delete はIDで文書を削除する
func (s *QdrantStore) Delete(ctx context.Context, id string) error {
	collection, err := s.target()
	if err != nil {
		return err
	}

	// 存在確認
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDNum(hashID(id))},
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return fmt.Errorf("failed to check existence: %w", err)
	}
	if len(points) == 0 {
		return ErrNotFound
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDNum(hashID(id))),
	})
	if err != nil {
		return fmt.Errorf("failed to delete point: %w", err)
	}
	return nil
}

// Query はベクトル検索を実行する
func (s *QdrantStore) Query(ctx context.Context, embedding []float32, opts QueryOptions) ([]QueryResult, error) {
	collection, err := s.target()
	if err != nil {
		return nil, err
	}

	queryResp, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(embedding...),
		Filter:         buildWhereFilter(opts.Where),
		Limit:          qdrant.PtrOf(uint64(opts.topK())),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}

	results := make([]QueryResult, 0, len(queryResp))
	for _, point := range queryResp {
		// Qdrantのcosineスコアは-1〜1なので (score+1)/2 で0-1に正規化
		results = append(results, QueryResult{
			Document: payloadToDocument(point.Payload),
			Score:    float64((point.Score + 1.0) / 2.0),
		})
	}
	return sortByScore(results, opts.topK()), nil
}

// ListRecent は最新の文書を返す
// Scrollは順序保証がないため、まとめて取得してソートする
func (s *QdrantStore) ListRecent(ctx context.Context, limit int) ([]*model.Document, error) {
	collection, err := s.target()
	if err != nil {
		return nil, err
	}

	scrollResp, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          qdrant.PtrOf(uint32(qdrantScrollLimit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll points: %w", err)
	}

	docs := make([]*model.Document, 0, len(scrollResp))
	for _, point := range scrollResp {
		docs = append(docs, payloadToDocument(point.Payload))
	}
	sortRecent(docs)

	if limit = listLimit(limit); len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// Count は文書数を返す
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	collection, err := s.target()
	if err != nil {
		return 0, err
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(n), nil
}

// hashID は文字列IDを数値IDに変換する
func hashID(id string) uint64 {
	h := blake3.Sum256([]byte(id))
	return binary.BigEndian.Uint64(h[:8])
}

// buildWhereFilter はmetadataの完全一致条件をQdrantのフィルタにする
func buildWhereFilter(where map[string]string) *qdrant.Filter {
	if len(where) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(where))
	for k, v := range where {
		conditions = append(conditions, qdrant.NewMatch(qdrantMetaPrefix+k, v))
	}
	return &qdrant.Filter{Must: conditions}
}

// buildPayload はDocumentからQdrantのpayloadを構築する
func buildPayload(doc *model.Document) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(doc.Metadata)+3)
	payload["id"], _ = qdrant.NewValue(doc.ID)
	payload["text"], _ = qdrant.NewValue(doc.Text)
	if doc.CreatedAt != nil {
		payload["createdAt"], _ = qdrant.NewValue(*doc.CreatedAt)
	}
	for k, v := range doc.Metadata {
		payload[qdrantMetaPrefix+k], _ = qdrant.NewValue(v)
	}
	return payload
}

// payloadToDocument はQdrantのpayloadからDocumentを構築する
func payloadToDocument(payload map[string]*qdrant.Value) *model.Document {
	doc := &model.Document{}
	for k, v := range payload {
		str := v.GetStringValue()
		switch {
		case k == "id":
			doc.ID = str
		case k == "text":
			doc.Text = str
		case k == "createdAt":
			if str != "" {
				doc.CreatedAt = &str
			}
		case strings.HasPrefix(k, qdrantMetaPrefix):
			if doc.Metadata == nil {
				doc.Metadata = make(map[string]string)
			}
			doc.Metadata[strings.TrimPrefix(k, qdrantMetaPrefix)] = str
		}
	}
	return doc
}
