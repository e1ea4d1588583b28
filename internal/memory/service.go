package memory

import (
	"context"
	"log/slog"

	"github.com/brbranch/parmira/internal/logging"
	"github.com/brbranch/parmira/internal/model"
	"github.com/brbranch/parmira/internal/store"
)

// previewLen はログに残すcontentの文字数
const previewLen = 50

// Service はSTMとLTMをまとめ、エージェントから呼ばれる記憶操作を提供する
type Service struct {
	stm    *ShortTerm
	ltm    *LongTerm
	topK   int
	logger *slog.Logger
}

// NewService はServiceを作成する
// ltmがnilの場合、LTM操作は ErrLTMDisabled を返す
func NewService(stm *ShortTerm, ltm *LongTerm, topK int, logger *slog.Logger) *Service {
	if topK <= 0 {
		topK = store.DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{stm: stm, ltm: ltm, topK: topK, logger: logger}
}

// StoreMemory はSTMに記憶を保存する
func (s *Service) StoreMemory(ctx context.Context, content string) (int64, error) {
	id, err := s.stm.Insert(ctx, content)
	if err != nil {
		return 0, err
	}
	s.logger.Info("stored memory", "id", id, "content", logging.Preview(content, previewLen))
	return id, nil
}

// TombstoneMemory はSTMの記憶を論理削除する
func (s *Service) TombstoneMemory(ctx context.Context, id int64) error {
	if err := s.stm.Tombstone(ctx, id); err != nil {
		return err
	}
	s.logger.Info("tombstoned memory", "id", id)
	return nil
}

// SearchMemory はSTMをキーワードで検索する
func (s *Service) SearchMemory(ctx context.Context, keyword string) ([]model.Memory, error) {
	results, err := s.stm.SearchByText(ctx, keyword)
	if err != nil {
		return nil, err
	}
	s.logger.Info("searched memory", "keyword", keyword, "results", len(results))
	return results, nil
}

// FetchAllMemories はtombstoneされていないSTMの記憶をすべて返す
func (s *Service) FetchAllMemories(ctx context.Context) ([]model.Memory, error) {
	results, err := s.stm.FetchAll(ctx, false)
	if err != nil {
		return nil, err
	}
	s.logger.Info("fetched all memories", "total", len(results))
	return results, nil
}

// StoreLTMMemory はLTMに記憶を保存する
func (s *Service) StoreLTMMemory(ctx context.Context, content string, metadata map[string]string) (string, error) {
	if s.ltm == nil {
		return "", ErrLTMDisabled
	}
	id, err := s.ltm.Store(ctx, content, metadata)
	if err != nil {
		return "", err
	}
	s.logger.Info("stored LTM memory", "id", id, "content", logging.Preview(content, previewLen))
	return id, nil
}

// SearchLTMMemory はLTMを意味検索する（topKが0以下なら既定値）
func (s *Service) SearchLTMMemory(ctx context.Context, query string, topK int) ([]store.QueryResult, error) {
	if s.ltm == nil {
		return nil, ErrLTMDisabled
	}
	if topK <= 0 {
		topK = s.topK
	}
	results, err := s.ltm.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	s.logger.Info("searched LTM", "query", logging.Preview(query, previewLen), "results", len(results))
	return results, nil
}

// Close はSTMとLTMを閉じる
func (s *Service) Close() error {
	err := s.stm.Close()
	if s.ltm != nil {
		if lerr := s.ltm.Close(); err == nil {
			err = lerr
		}
	}
	s.logger.Info("memory closed")
	return err
}
