package store

import (
	"fmt"

	"github.com/brbranch/parmira/internal/model"
)

// DefaultQdrantURL はデフォルトのQdrantサーバーURL
const DefaultQdrantURL = "http://localhost:6334"

// Open はStoreConfigからStoreを作成する（未初期化）
// sqlitePath は store.path が未設定の場合に使うSQLiteファイル
func Open(cfg model.StoreConfig, sqlitePath string) (Store, error) {
	switch cfg.Type {
	case model.StoreTypeSQLite, "":
		path := sqlitePath
		if cfg.Path != nil && *cfg.Path != "" {
			path = *cfg.Path
		}
		return NewSQLiteStore(path)

	case model.StoreTypeChroma:
		baseURL := DefaultChromaURL
		if cfg.URL != nil && *cfg.URL != "" {
			baseURL = *cfg.URL
		}
		return NewChromaStore(baseURL, WithChromaTenant(cfg.Tenant, cfg.Database))

	case model.StoreTypeQdrant:
		qdrantURL := DefaultQdrantURL
		if cfg.URL != nil && *cfg.URL != "" {
			qdrantURL = *cfg.URL
		}
		return NewQdrantStore(qdrantURL)

	case model.StoreTypeMemory:
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStoreType, cfg.Type)
	}
}
