package usecase

import (
	"context"
	"errors"
	"fmt"

	"evimai-api/internal/modules/credit/domain"
)

// Ledger クレジット台帳サービス
//
// 口座は初回参照時に無料クレジット付きで作成される。
type Ledger struct {
	store       domain.AccountStore
	freeCredits int
}

// NewLedger 新しいLedgerを作成
func NewLedger(store domain.AccountStore, freeCredits int) *Ledger {
	if freeCredits < 0 {
		freeCredits = domain.DefaultFreeCredits
	}
	return &Ledger{
		store:       store,
		freeCredits: freeCredits,
	}
}

// Account 口座を取得（存在しなければ作成）
func (l *Ledger) Account(ctx context.Context, userID string) (*domain.Account, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}

	account, err := l.store.FindByUserID(ctx, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, fmt.Errorf("failed to find credit account: %w", err)
	}

	account, err = l.store.CreateIfAbsent(ctx, domain.NewAccount(userID, l.freeCredits))
	if err != nil {
		return nil, fmt.Errorf("failed to create credit account: %w", err)
	}
	return account, nil
}

// GetBalance 残高を取得
func (l *Ledger) GetBalance(ctx context.Context, userID string) (int, error) {
	account, err := l.Account(ctx, userID)
	if err != nil {
		return 0, err
	}
	return account.Credits, nil
}

// HasCredits 処理可能か（プレミアムは常にtrue）
func (l *Ledger) HasCredits(ctx context.Context, userID string) (bool, error) {
	account, err := l.Account(ctx, userID)
	if err != nil {
		return false, err
	}
	return account.CanProcess(), nil
}

// Decrement クレジットを1消費（プレミアムは消費しない、0未満にはならない）
func (l *Ledger) Decrement(ctx context.Context, userID string) error {
	if _, err := l.Account(ctx, userID); err != nil {
		return err
	}
	if err := l.store.DecrementCredits(ctx, userID); err != nil {
		return fmt.Errorf("failed to decrement credits: %w", err)
	}
	return nil
}

// GrantBonus クレジットを加算
func (l *Ledger) GrantBonus(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidAmount, amount)
	}
	if _, err := l.Account(ctx, userID); err != nil {
		return err
	}
	if err := l.store.AddCredits(ctx, userID, amount); err != nil {
		return fmt.Errorf("failed to grant credits: %w", err)
	}
	return nil
}

// SetPremium プレミアム状態を設定
func (l *Ledger) SetPremium(ctx context.Context, userID string, premium bool) error {
	if _, err := l.Account(ctx, userID); err != nil {
		return err
	}
	if err := l.store.SetPremium(ctx, userID, premium); err != nil {
		return fmt.Errorf("failed to set premium: %w", err)
	}
	return nil
}
