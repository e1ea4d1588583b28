// Package indexer keeps a SQLite index of files under the configured roots and
// optionally appends each changed file to a long-term memory collection.
package indexer

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"

	"github.com/brbranch/parmira/internal/config"
	"github.com/brbranch/parmira/internal/model"
)

const (
	// DefaultLimit は検索と一覧の件数上限
	DefaultLimit = 50
	// DefaultEvery は定期インデックスの間隔
	DefaultEvery = 60 * time.Minute
	// DefaultCollection は履歴を追記するLTMコレクション名
	DefaultCollection = "system_files"
)

// History はファイル履歴の追記先
// memory.LongTermが満たす
type History interface {
	Put(ctx context.Context, id, text string, metadata map[string]string) error
}

// File はインデックス済みのファイル
type File struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	Extension    string    `json:"extension"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	LastSeen     time.Time `json:"last_seen"`
}

// Summary は1回のスキャン結果
type Summary struct {
	Seen     int           `json:"seen"`
	Upserted int           `json:"upserted"`
	Removed  int           `json:"removed"`
	Appended int           `json:"appended"`
	Duration time.Duration `json:"duration"`
}

// Indexer はfilesテーブルを管理する
type Indexer struct {
	db      *sql.DB
	roots   []string
	skip    map[string]struct{}
	history History
	logger  *slog.Logger

	scan sync.Mutex
	now  func() time.Time
}

// Option はIndexerのオプション
type Option func(*Indexer)

// WithHistory は変更のあったファイルをLTMに追記する
func WithHistory(h History) Option {
	return func(ix *Indexer) {
		ix.history = h
	}
}

// WithLogger はロガーを設定
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Indexer) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// Open はインデックスDBを開き、Indexerを作成する
func Open(ctx context.Context, cfg model.IndexerConfig, dbPath string, opts ...Option) (*Indexer, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ix := &Indexer{
		db:     db,
		roots:  cfg.Roots,
		skip:   make(map[string]struct{}, len(cfg.SkipExtensions)),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, ext := range cfg.SkipExtensions {
		ix.skip[normalizeExt(ext)] = struct{}{}
	}
	for _, opt := range opts {
		opt(ix)
	}

	if err := ix.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return ix, nil
}

func (ix *Indexer) migrate(ctx context.Context) error {
	_, err := ix.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			extension TEXT NOT NULL DEFAULT '',
			size INTEGER NOT NULL DEFAULT 0,
			last_modified INTEGER NOT NULL DEFAULT 0,
			last_seen INTEGER NOT NULL DEFAULT 0,
			fingerprint TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create files table: %w", err)
	}
	if _, err := ix.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_files_name ON files(name)`); err != nil {
		return fmt.Errorf("failed to create name index: %w", err)
	}
	return nil
}

// normalizeExt は拡張子を ".ext" の小文字にそろえる
func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// fingerprint はパス・サイズ・更新時刻から変更検知用のハッシュを作る
func fingerprint(path string, size int64, modified time.Time) string {
	h := blake3.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(size, 10)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(modified.UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// IndexSystem はルート以下を走査してインデックスを更新する
// 今回見つからなかった行は削除する
func (ix *Indexer) IndexSystem(ctx context.Context) (Summary, error) {
	ix.scan.Lock()
	defer ix.scan.Unlock()

	start := ix.now()
	scanStart := start.UnixNano()
	var summary Summary

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return summary, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lookup, err := tx.PrepareContext(ctx, `SELECT fingerprint FROM files WHERE path = ?`)
	if err != nil {
		return summary, fmt.Errorf("failed to prepare lookup: %w", err)
	}
	defer lookup.Close()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO files (path, name, extension, size, last_modified, last_seen, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			extension = excluded.extension,
			size = excluded.size,
			last_modified = excluded.last_modified,
			last_seen = excluded.last_seen,
			fingerprint = excluded.fingerprint
	`)
	if err != nil {
		return summary, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer upsert.Close()

	var changed []File
	for _, root := range ix.roots {
		dir, err := config.ExpandTilde(root)
		if err != nil {
			ix.logger.Warn("skip root", "root", root, "error", err)
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			ix.logger.Warn("root path does not exist", "root", dir, "error", err)
			continue
		}

		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if walkErr != nil {
				// 読めないディレクトリは飛ばす
				ix.logger.Debug("skip unreadable entry", "path", path, "error", walkErr)
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			ext := normalizeExt(filepath.Ext(d.Name()))
			if _, ok := ix.skip[ext]; ok {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				ix.logger.Debug("skip unreadable entry", "path", path, "error", err)
				return nil
			}

			summary.Seen++
			file := File{
				Path:         path,
				Name:         d.Name(),
				Extension:    ext,
				Size:         info.Size(),
				LastModified: info.ModTime(),
			}
			fp := fingerprint(path, file.Size, file.LastModified)

			var prev string
			switch err := lookup.QueryRowContext(ctx, path).Scan(&prev); {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return fmt.Errorf("failed to look up %s: %w", path, err)
			}

			_, err = upsert.ExecContext(ctx, path, file.Name, file.Extension, file.Size,
				file.LastModified.UnixMilli(), scanStart, fp)
			if err != nil {
				return fmt.Errorf("failed to upsert %s: %w", path, err)
			}
			if prev != fp {
				summary.Upserted++
				changed = append(changed, file)
			}
			return nil
		})
		if err != nil {
			return summary, err
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM files WHERE last_seen < ?`, scanStart)
	if err != nil {
		return summary, fmt.Errorf("failed to remove stale files: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		summary.Removed = int(n)
	}
	if err := tx.Commit(); err != nil {
		return summary, fmt.Errorf("failed to commit index: %w", err)
	}

	summary.Appended = ix.appendHistory(ctx, changed, start)
	summary.Duration = ix.now().Sub(start)
	ix.logger.Info("system index updated",
		"seen", summary.Seen,
		"upserted", summary.Upserted,
		"removed", summary.Removed,
		"appended", summary.Appended,
	)
	return summary, nil
}

// appendHistory は変更のあったファイルをLTMに追記する
// 失敗はログに残して続行する
func (ix *Indexer) appendHistory(ctx context.Context, files []File, at time.Time) int {
	if ix.history == nil {
		return 0
	}
	appended := 0
	for _, f := range files {
		id := fmt.Sprintf("%s::%d", f.Path, at.UnixMilli())
		meta := map[string]string{
			"path":          f.Path,
			"extension":     f.Extension,
			"last_modified": strconv.FormatInt(f.LastModified.Unix(), 10),
		}
		if err := ix.history.Put(ctx, id, f.Name, meta); err != nil {
			ix.logger.Warn("failed to append file history", "path", f.Path, "error", err)
			continue
		}
		appended++
	}
	return appended
}

const selectFiles = `SELECT path, name, extension, size, last_modified, last_seen FROM files`

// SearchByName はファイル名の部分一致で検索する
func (ix *Indexer) SearchByName(ctx context.Context, query string, limit int) ([]File, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := ix.db.QueryContext(ctx,
		selectFiles+` WHERE name LIKE ? ESCAPE '\' ORDER BY name LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search files: %w", err)
	}
	return scanFiles(rows)
}

// ListRecent は更新の新しい順にファイルを返す
func (ix *Indexer) ListRecent(ctx context.Context, limit int) ([]File, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := ix.db.QueryContext(ctx,
		selectFiles+` ORDER BY last_modified DESC, path LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return scanFiles(rows)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

func scanFiles(rows *sql.Rows) ([]File, error) {
	defer rows.Close()

	files := []File{}
	for rows.Next() {
		var (
			f                  File
			modified, lastSeen int64
		)
		if err := rows.Scan(&f.Path, &f.Name, &f.Extension, &f.Size, &modified, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		f.LastModified = time.UnixMilli(modified)
		f.LastSeen = time.Unix(0, lastSeen)
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file rows: %w", err)
	}
	return files, nil
}

// RunPeriodic はctxが終わるまでevery間隔でIndexSystemを繰り返す
// 起動直後に1回実行する
func (ix *Indexer) RunPeriodic(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = DefaultEvery
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if _, err := ix.IndexSystem(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			ix.logger.Error("system index failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Close はDBを閉じる
func (ix *Indexer) Close() error {
	return ix.db.Close()
}
