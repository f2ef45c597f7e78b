package memory

import (
	"context"
	"sync"

	"evimai-api/internal/modules/processing/domain"
)

// maxHistoryPerUser ユーザーごとに保持する履歴の上限
const maxHistoryPerUser = 100

// HistoryStore プロセス内メモリの処理履歴ストア
type HistoryStore struct {
	mu      sync.RWMutex
	entries map[string][]*domain.HistoryEntry
}

// NewHistoryStore 新しいHistoryStoreを作成
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{entries: make(map[string][]*domain.HistoryEntry)}
}

// Create 履歴を追加（上限を超えた古い履歴は捨てる）
func (s *HistoryStore) Create(_ context.Context, entry *domain.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.entries[entry.UserID], entry)
	if len(list) > maxHistoryPerUser {
		list = list[len(list)-maxHistoryPerUser:]
	}
	s.entries[entry.UserID] = list
	return nil
}

// FindByUserID 新しい順に最大limit件を返す
func (s *HistoryStore) FindByUserID(_ context.Context, userID string, limit int) ([]*domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.entries[userID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}

	result := make([]*domain.HistoryEntry, 0, limit)
	for i := len(list) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, list[i])
	}
	return result, nil
}
