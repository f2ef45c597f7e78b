package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"

	"evimai-api/internal/config"
	creditdomain "evimai-api/internal/modules/credit/domain"
	"evimai-api/internal/modules/processing/domain"
)

// mysqlErrDupKeyName 同名インデックスが既に存在する
const mysqlErrDupKeyName = 1061

// CreditAccount BUNモデル
type CreditAccount struct {
	bun.BaseModel `bun:"table:credit_accounts"`

	UserID    string    `bun:"user_id,pk,type:varchar(128)"`
	Credits   int       `bun:"credits,notnull,default:0"`
	IsPremium bool      `bun:"is_premium,notnull,default:false"`
	CreatedAt time.Time `bun:"created_at,notnull,type:datetime(6)"`
	UpdatedAt time.Time `bun:"updated_at,notnull,type:datetime(6)"`
}

// ProcessingHistory BUNモデル
type ProcessingHistory struct {
	bun.BaseModel `bun:"table:processing_history"`

	ID        string    `bun:"id,pk,type:varchar(36)"`
	UserID    string    `bun:"user_id,notnull,type:varchar(128)"`
	Mode      string    `bun:"mode,notnull,type:varchar(32)"`
	Style     string    `bun:"style,type:varchar(32),default:''"`
	FromCache bool      `bun:"from_cache,notnull,default:false"`
	Result    string    `bun:"result,type:mediumtext"`
	CreatedAt time.Time `bun:"created_at,notnull,type:datetime(6)"`
}

// OpenMySQL MySQLに接続してbun.DBを返す
func OpenMySQL(cfg *config.MySQLConfig) (*bun.DB, error) {
	// clientFoundRows: 値が変わらないUPDATEも一致行として数える
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=Local&clientFoundRows=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	sqldb, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := bun.NewDB(sqldb, mysqldialect.New())

	// 接続確認
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// CreateSchema テーブルとインデックスを作成（既存の場合は何もしない）
func CreateSchema(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewCreateTable().Model((*CreditAccount)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create credit_accounts table: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*ProcessingHistory)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create processing_history table: %w", err)
	}

	_, err := db.NewCreateIndex().
		Model((*ProcessingHistory)(nil)).
		Index("idx_processing_history_user_created").
		Column("user_id", "created_at").
		Exec(ctx)
	var mysqlErr *mysql.MySQLError
	if err != nil && !(errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDupKeyName) {
		return fmt.Errorf("failed to create processing_history index: %w", err)
	}

	return nil
}

// BunCreditRepository BUN実装
type BunCreditRepository struct {
	db *bun.DB
}

// NewBunCreditRepository 新しいBunCreditRepositoryを作成
func NewBunCreditRepository(db *bun.DB) *BunCreditRepository {
	return &BunCreditRepository{db: db}
}

// FindByUserID ユーザーIDで口座を検索
func (r *BunCreditRepository) FindByUserID(ctx context.Context, userID string) (*creditdomain.Account, error) {
	model := &CreditAccount{}
	err := r.db.NewSelect().
		Model(model).
		Where("user_id = ?", userID).
		Scan(ctx)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", creditdomain.ErrAccountNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credit account: %w", err)
	}

	return toAccount(model), nil
}

// CreateIfAbsent 口座がなければ作成（INSERT IGNORE）
func (r *BunCreditRepository) CreateIfAbsent(ctx context.Context, account *creditdomain.Account) (*creditdomain.Account, error) {
	model := &CreditAccount{
		UserID:    account.UserID,
		Credits:   account.Credits,
		IsPremium: account.IsPremium,
		CreatedAt: account.CreatedAt,
		UpdatedAt: account.UpdatedAt,
	}

	if _, err := r.db.NewInsert().Model(model).Ignore().Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create credit account: %w", err)
	}

	return r.FindByUserID(ctx, account.UserID)
}

// DecrementCredits 残高を1減らす（単一UPDATEで原子的に実行）
func (r *BunCreditRepository) DecrementCredits(ctx context.Context, userID string) error {
	res, err := r.db.NewUpdate().
		Model((*CreditAccount)(nil)).
		Set("credits = credits - 1").
		Set("updated_at = ?", time.Now()).
		Where("user_id = ?", userID).
		Where("credits > 0").
		Where("is_premium = ?", false).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to decrement credits: %w", err)
	}

	if affected, _ := res.RowsAffected(); affected == 0 {
		// 残高0・プレミアムは正常、口座がない場合のみエラー
		if _, err := r.FindByUserID(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

// AddCredits 残高を加算
func (r *BunCreditRepository) AddCredits(ctx context.Context, userID string, amount int) error {
	res, err := r.db.NewUpdate().
		Model((*CreditAccount)(nil)).
		Set("credits = credits + ?", amount).
		Set("updated_at = ?", time.Now()).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to add credits: %w", err)
	}
	return requireRow(res, userID)
}

// SetPremium プレミアム状態を設定
func (r *BunCreditRepository) SetPremium(ctx context.Context, userID string, premium bool) error {
	res, err := r.db.NewUpdate().
		Model((*CreditAccount)(nil)).
		Set("is_premium = ?", premium).
		Set("updated_at = ?", time.Now()).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set premium: %w", err)
	}
	return requireRow(res, userID)
}

func requireRow(res sql.Result, userID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", creditdomain.ErrAccountNotFound, userID)
	}
	return nil
}

func toAccount(model *CreditAccount) *creditdomain.Account {
	return &creditdomain.Account{
		UserID:    model.UserID,
		Credits:   model.Credits,
		IsPremium: model.IsPremium,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

// BunHistoryRepository BUN実装
type BunHistoryRepository struct {
	db *bun.DB
}

// NewBunHistoryRepository 新しいBunHistoryRepositoryを作成
func NewBunHistoryRepository(db *bun.DB) *BunHistoryRepository {
	return &BunHistoryRepository{db: db}
}

// Create 処理履歴を保存
func (r *BunHistoryRepository) Create(ctx context.Context, entry *domain.HistoryEntry) error {
	model, err := toHistoryModel(entry)
	if err != nil {
		return fmt.Errorf("failed to convert to model: %w", err)
	}

	if _, err := r.db.NewInsert().Model(model).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create history entry: %w", err)
	}
	return nil
}

// FindByUserID 新しい順に最大limit件を返す
func (r *BunHistoryRepository) FindByUserID(ctx context.Context, userID string, limit int) ([]*domain.HistoryEntry, error) {
	var models []ProcessingHistory
	query := r.db.NewSelect().
		Model(&models).
		Where("user_id = ?", userID).
		Order("created_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to find history entries: %w", err)
	}

	entries := make([]*domain.HistoryEntry, 0, len(models))
	for i := range models {
		entry, err := toHistoryEntry(&models[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// toHistoryModel エンティティをモデルに変換
func toHistoryModel(entry *domain.HistoryEntry) (*ProcessingHistory, error) {
	model := &ProcessingHistory{
		ID:        entry.ID,
		UserID:    entry.UserID,
		Mode:      string(entry.Mode),
		Style:     entry.Style,
		FromCache: entry.FromCache,
		CreatedAt: entry.CreatedAt,
	}

	if entry.Result != nil {
		data, err := json.Marshal(entry.Result)
		if err != nil {
			return nil, err
		}
		model.Result = string(data)
	}

	return model, nil
}

// toHistoryEntry モデルをエンティティに変換
func toHistoryEntry(model *ProcessingHistory) (*domain.HistoryEntry, error) {
	entry := &domain.HistoryEntry{
		ID:        model.ID,
		UserID:    model.UserID,
		Mode:      domain.Mode(model.Mode),
		Style:     model.Style,
		FromCache: model.FromCache,
		CreatedAt: model.CreatedAt,
	}

	if model.Result != "" {
		var result domain.ProcessingResult
		if err := json.Unmarshal([]byte(model.Result), &result); err != nil {
			return nil, fmt.Errorf("failed to decode history result %s: %w", model.ID, err)
		}
		entry.Result = &result
	}

	return entry, nil
}
