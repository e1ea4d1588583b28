package model

import "time"

// Memory は短期記憶（STM）の1行を表す
type Memory struct {
	ID         int64     `json:"id"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Tombstoned bool      `json:"tombstoned,omitempty"`
}

// Document は長期記憶（LTM）やファイル履歴としてベクトルストアに保存される文書
type Document struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt *string           `json:"createdAt,omitempty"` // ISO8601 UTC
}
