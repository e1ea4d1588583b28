// Package memory implements parmira's short-term (SQLite) and long-term
// (vector store) memory along with the retrieval used to build RAG context.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/brbranch/parmira/internal/model"
)

// エラー定義
var (
	ErrNotFound     = errors.New("memory not found")
	ErrEmptyContent = errors.New("memory content is empty")
	ErrLTMDisabled  = errors.New("long-term memory is not configured")
)

// timestampLayouts はtimestamp列の読み取りで受け付ける形式
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ShortTerm はmemoriesテーブルに保存される短期記憶
type ShortTerm struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenShortTerm はSTMのデータベースを開き、テーブルを用意する
func OpenShortTerm(ctx context.Context, dbPath string) (*ShortTerm, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}
	// SQLiteの書き込みは1接続に揃える
	db.SetMaxOpenConns(1)

	s := &ShortTerm{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *ShortTerm) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create memories table: %w", err)
	}

	// 旧スキーマにはtombstoned列がない
	hasTombstoned, err := s.hasColumn(ctx, "memories", "tombstoned")
	if err != nil {
		return err
	}
	if !hasTombstoned {
		if _, err := s.db.ExecContext(ctx, `ALTER TABLE memories ADD COLUMN tombstoned INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("failed to add tombstoned column: %w", err)
		}
	}
	return nil
}

func (s *ShortTerm) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, fmt.Errorf("failed to scan column name: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Insert は記憶を追加し、そのIDを返す
func (s *ShortTerm) Insert(ctx context.Context, content string) (int64, error) {
	if strings.TrimSpace(content) == "" {
		return 0, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (content, timestamp) VALUES (?, ?)`,
		content, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to insert memory: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get memory id: %w", err)
	}
	return id, nil
}

// FetchAll は記憶をID順に返す
func (s *ShortTerm) FetchAll(ctx context.Context, includeTombstoned bool) ([]model.Memory, error) {
	query := `SELECT id, content, timestamp, tombstoned FROM memories`
	if !includeTombstoned {
		query += ` WHERE tombstoned = 0`
	}
	query += ` ORDER BY id`
	return s.query(ctx, query)
}

// SearchByText はcontentの部分一致で検索する（tombstone済みは除外）
func (s *ShortTerm) SearchByText(ctx context.Context, keyword string) ([]model.Memory, error) {
	return s.query(ctx, `
		SELECT id, content, timestamp, tombstoned FROM memories
		WHERE tombstoned = 0 AND content LIKE ? ESCAPE '\'
		ORDER BY id
	`, "%"+escapeLike(keyword)+"%")
}

// Tombstone は記憶を論理削除する（削除済みに対しては何もしない）
func (s *ShortTerm) Tombstone(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up memory: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE memories SET tombstoned = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to tombstone memory: %w", err)
	}
	return nil
}

// Close はデータベースを閉じる
func (s *ShortTerm) Close() error {
	return s.db.Close()
}

func (s *ShortTerm) query(ctx context.Context, query string, args ...any) ([]model.Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	memories := []model.Memory{}
	for rows.Next() {
		var (
			m          model.Memory
			timestamp  sql.NullString
			tombstoned int
		)
		if err := rows.Scan(&m.ID, &m.Content, &timestamp, &tombstoned); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		m.Timestamp = parseTimestamp(timestamp.String)
		m.Tombstoned = tombstoned != 0
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memories: %w", err)
	}
	return memories, nil
}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
