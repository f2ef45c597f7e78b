package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	// DefaultFreeCredits 新規ユーザーに付与する無料クレジット
	DefaultFreeCredits = 3
	// DefaultBonusCredits サブスクリプション開始時のボーナス
	DefaultBonusCredits = 100
	// maxUserIDLength ユーザーIDの最大長
	maxUserIDLength = 128
)

var (
	// ErrAccountNotFound アカウントが存在しない
	ErrAccountNotFound = errors.New("credit account not found")
	// ErrInvalidAmount 付与量が不正
	ErrInvalidAmount = errors.New("invalid credit amount")
	// ErrInvalidUserID ユーザーIDが不正
	ErrInvalidUserID = errors.New("invalid user id")
)

// Account クレジット口座
type Account struct {
	UserID    string    `json:"userId"`
	Credits   int       `json:"credits"`
	IsPremium bool      `json:"isPremium"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewAccount 無料クレジット付きの新規口座を作成
func NewAccount(userID string, freeCredits int) *Account {
	now := time.Now()
	return &Account{
		UserID:    userID,
		Credits:   freeCredits,
		IsPremium: false,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanProcess 処理可能か（プレミアムは残高に関係なく可）
func (a *Account) CanProcess() bool {
	return a.IsPremium || a.Credits > 0
}

// ValidateUserID ユーザーIDを検証
func ValidateUserID(userID string) error {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" || len(trimmed) > maxUserIDLength || trimmed != userID {
		return ErrInvalidUserID
	}
	return nil
}

// AccountStore クレジット口座ストアのインターフェース
//
// DecrementCredits と AddCredits は単一の原子的操作として実装すること。
type AccountStore interface {
	FindByUserID(ctx context.Context, userID string) (*Account, error)
	// CreateIfAbsent 存在しなければ作成し、いずれの場合も現在の口座を返す
	CreateIfAbsent(ctx context.Context, account *Account) (*Account, error)
	// DecrementCredits 残高を1減らす（0未満にはしない、プレミアムは減らさない）
	DecrementCredits(ctx context.Context, userID string) error
	AddCredits(ctx context.Context, userID string, amount int) error
	SetPremium(ctx context.Context, userID string, premium bool) error
}
