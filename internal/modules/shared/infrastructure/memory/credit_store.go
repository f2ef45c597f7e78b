package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"evimai-api/internal/modules/credit/domain"
)

// CreditStore プロセス内メモリのクレジット口座ストア
type CreditStore struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
}

// NewCreditStore 新しいCreditStoreを作成
func NewCreditStore() *CreditStore {
	return &CreditStore{accounts: make(map[string]*domain.Account)}
}

// FindByUserID ユーザーIDで口座を検索
func (s *CreditStore) FindByUserID(_ context.Context, userID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, userID)
	}
	copied := *account
	return &copied, nil
}

// CreateIfAbsent 口座がなければ作成
func (s *CreditStore) CreateIfAbsent(_ context.Context, account *domain.Account) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.accounts[account.UserID]; ok {
		copied := *existing
		return &copied, nil
	}

	stored := *account
	s.accounts[account.UserID] = &stored
	copied := stored
	return &copied, nil
}

// DecrementCredits 残高を1減らす
func (s *CreditStore) DecrementCredits(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[userID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, userID)
	}
	if account.IsPremium || account.Credits <= 0 {
		return nil
	}
	account.Credits--
	account.UpdatedAt = time.Now()
	return nil
}

// AddCredits 残高を加算
func (s *CreditStore) AddCredits(_ context.Context, userID string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[userID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, userID)
	}
	account.Credits += amount
	account.UpdatedAt = time.Now()
	return nil
}

// SetPremium プレミアム状態を設定
func (s *CreditStore) SetPremium(_ context.Context, userID string, premium bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[userID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, userID)
	}
	account.IsPremium = premium
	account.UpdatedAt = time.Now()
	return nil
}
