// Package store provides vector storage for long-term memory documents.
package store

import (
	"context"

	"github.com/brbranch/parmira/internal/model"
)

// Store はベクトルストアの抽象インターフェース
// 1つのStoreは Initialize で指定した1コレクションを扱う
type Store interface {
	// 初期化（コレクションがなければ作成）
	Initialize(ctx context.Context, collection string, dim int) error

	// Document操作（同じIDのAddは上書き）
	Add(ctx context.Context, doc *model.Document, embedding []float32) error
	Get(ctx context.Context, id string) (*model.Document, error)
	Delete(ctx context.Context, id string) error

	// ベクトル検索（スコア降順）
	Query(ctx context.Context, embedding []float32, opts QueryOptions) ([]QueryResult, error)

	// 最新一覧取得（createdAt降順）
	ListRecent(ctx context.Context, limit int) ([]*model.Document, error)
	Count(ctx context.Context) (int, error)

	Close() error
}
