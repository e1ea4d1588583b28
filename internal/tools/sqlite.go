package tools

import (
	"context"
	"database/sql"
	"net/http"
	"net/url"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/brbranch/parmira/internal/model"
)

// SQLiteTool はSELECT文だけを受け付けるクエリツール（execute_query）
type SQLiteTool struct {
	path string
}

// NewSQLiteTool はSQLiteToolを作成する
func NewSQLiteTool(path string) *SQLiteTool {
	return &SQLiteTool{path: path}
}

func (t *SQLiteTool) Name() string { return "execute_query" }

func (t *SQLiteTool) Description() string {
	return "Run a read-only SELECT query against the system file index database."
}

func (t *SQLiteTool) Schema() model.JSONSchema {
	return objectSchema(map[string]model.JSONSchema{
		"query": prop("string", "A single SELECT statement."),
	}, "query")
}

// dsn は読み取り専用の接続文字列を返す
func (t *SQLiteTool) dsn() string {
	u := url.URL{Scheme: "file", Path: t.path}
	q := url.Values{}
	q.Set("mode", "ro")
	q.Add("_pragma", "query_only(1)")
	u.RawQuery = q.Encode()
	return u.String()
}

// Call はクエリを実行する
func (t *SQLiteTool) Call(ctx context.Context, args map[string]any) *Result {
	query, _ := stringArg(args, "query")
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") {
		return Failure(http.StatusForbidden, "Access denied. Only READ-ONLY (SELECT) queries are permitted.")
	}

	db, err := sql.Open("sqlite", t.dsn())
	if err != nil {
		return Failure(http.StatusInternalServerError, "Internal Server Error: %v", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return Failure(http.StatusBadRequest, "SQLite Error: %v", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Failure(http.StatusBadRequest, "SQLite Error: %v", err)
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Failure(http.StatusBadRequest, "SQLite Error: %v", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return Failure(http.StatusBadRequest, "SQLite Error: %v", err)
	}

	return Success(map[string]any{
		"results":   results,
		"row_count": len(results),
	})
}
