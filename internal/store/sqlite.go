package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/brbranch/parmira/internal/model"
)

const (
	// docCountWarningThreshold は警告を出す文書件数の閾値
	docCountWarningThreshold = 5000
)

// SQLiteStore はSQLiteを使用したStore実装（全件走査のcosine検索）
type SQLiteStore struct {
	mu          sync.RWMutex
	db          *sql.DB
	dbPath      string
	collection  string
	dim         int
	initialized bool
}

// NewSQLiteStore はSQLiteStoreを作成する
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WALモードを有効化
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Initialize はストアを初期化する
func (s *SQLiteStore) Initialize(ctx context.Context, collection string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		text TEXT NOT NULL,
		metadata TEXT,
		created_at TEXT,
		embedding BLOB,
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(collection, created_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}

	s.collection = collection
	s.dim = dim
	s.initialized = true
	return nil
}

// Close はストアをクローズする
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = false
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Add は文書を追加する（同じIDは上書き）
func (s *SQLiteStore) Add(ctx context.Context, doc *model.Document, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if s.dim > 0 && len(embedding) != s.dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.dim, len(embedding))
	}

	ensureCreatedAt(doc)

	var metadataJSON []byte
	if doc.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, text, metadata, created_at, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			text = excluded.text,
			metadata = excluded.metadata,
			created_at = excluded.created_at,
			embedding = excluded.embedding
	`, s.collection, doc.ID, doc.Text, nullableJSON(metadataJSON), *doc.CreatedAt, encodeEmbedding(embedding))
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	// 件数チェックと警告
	if count, err := s.count(ctx); err == nil && count >= docCountWarningThreshold {
		slog.Warn("document count exceeded threshold",
			"collection", s.collection,
			"count", count,
			"threshold", docCountWarningThreshold,
			"recommendation", "consider using chroma or qdrant for better performance")
	}
	return nil
}

// Get はIDで文書を取得する
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, text, metadata, created_at
		FROM documents
		WHERE collection = ? AND id = ?
	`, s.collection, id)

	doc, _, err := scanDocument(row.Scan, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// Delete はIDで文書を削除する
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, s.collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Query はベクトル検索を実行する
func (s *SQLiteStore) Query(ctx context.Context, embedding []float32, opts QueryOptions) ([]QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, metadata, created_at, embedding
		FROM documents
		WHERE collection = ?
	`, s.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var results []QueryResult
	for rows.Next() {
		doc, emb, err := scanDocument(rows.Scan, true)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if !MatchesWhere(doc.Metadata, opts.Where) {
			continue
		}
		results = append(results, QueryResult{
			Document: doc,
			Score:    DistanceToScore(CosineDistance(embedding, emb)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return sortByScore(results, opts.topK()), nil
}

// ListRecent は最新の文書を返す
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, metadata, created_at
		FROM documents
		WHERE collection = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, s.collection, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc, _, err := scanDocument(rows.Scan, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return docs, nil
}

// Count は文書数を返す
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return 0, ErrNotInitialized
	}
	return s.count(ctx)
}

func (s *SQLiteStore) count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE collection = ?`, s.collection).Scan(&count)
	return count, err
}

// scanDocument は id, text, metadata, created_at (, embedding) の行を読む
func scanDocument(scan func(dest ...any) error, withEmbedding bool) (*model.Document, []float32, error) {
	var (
		id, text     string
		metadataJSON sql.NullString
		createdAt    sql.NullString
		blob         []byte
	)

	dest := []any{&id, &text, &metadataJSON, &createdAt}
	if withEmbedding {
		dest = append(dest, &blob)
	}
	if err := scan(dest...); err != nil {
		return nil, nil, err
	}

	doc := &model.Document{ID: id, Text: text}
	if createdAt.Valid {
		doc.CreatedAt = &createdAt.String
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &doc.Metadata); err != nil {
			slog.Warn("failed to decode document metadata", "id", id, "error", err)
		}
	}
	return doc, decodeEmbedding(blob), nil
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

// encodeEmbedding はfloat32配列をバイト配列に変換する
func encodeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding はバイト配列をfloat32配列に変換する
func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return embedding
}
