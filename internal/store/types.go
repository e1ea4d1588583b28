package store

import (
	"errors"

	"github.com/brbranch/parmira/internal/model"
)

const (
	// DefaultTopK はQueryの既定件数
	DefaultTopK = 5
	// DefaultListLimit はListRecentの既定件数
	DefaultListLimit = 10
)

// QueryOptions はQuery操作のオプション
type QueryOptions struct {
	TopK  int               // default: 5
	Where map[string]string // metadataの完全一致（AND）、nilはフィルタなし
}

// QueryResult はベクトル検索結果の1件を表す
type QueryResult struct {
	Document *model.Document `json:"document"`
	Score    float64         `json:"score"` // 0-1に正規化（1が最も類似）
}

// エラー定義
var (
	ErrNotFound          = errors.New("resource not found")
	ErrNotInitialized    = errors.New("store not initialized")
	ErrConnectionFailed  = errors.New("failed to connect to store")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrUnknownStoreType  = errors.New("unknown store type")
)

func (o QueryOptions) topK() int {
	if o.TopK <= 0 {
		return DefaultTopK
	}
	return o.TopK
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
