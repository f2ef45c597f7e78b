package domain

import (
	"context"
	"time"
)

// ProcessingResult 処理結果
type ProcessingResult struct {
	Success           bool           `json:"success"`
	Mode              Mode           `json:"mode"`
	Style             string         `json:"style,omitempty"`
	OriginalImageRef  string         `json:"originalImageRef,omitempty"`
	ProcessedImageRef string         `json:"processedImageRef,omitempty"`
	ConfidenceScore   float64        `json:"confidenceScore"`
	Features          []string       `json:"features,omitempty"`
	Description       string         `json:"description,omitempty"`
	StructuredData    map[string]any `json:"structuredData,omitempty"`
	InputMethod       InputMethod    `json:"inputMethod,omitempty"`
	Provider          string         `json:"provider,omitempty"`
	ProcessedAt       time.Time      `json:"processedAt"`
	FromCache         bool           `json:"fromCache"`
	Error             string         `json:"error,omitempty"`

	cause error
}

// NewFailedResult 失敗結果を作成
func NewFailedResult(mode Mode, style string, cause error) *ProcessingResult {
	return &ProcessingResult{
		Success:     false,
		Mode:        mode,
		Style:       style,
		ProcessedAt: time.Now(),
		Error:       cause.Error(),
		cause:       cause,
	}
}

// Err 失敗の原因（成功時はnil）
func (r *ProcessingResult) Err() error {
	return r.cause
}

// Shaped レスポンス整形の結果
type Shaped struct {
	ConfidenceScore float64
	Features        []string
	Description     string
	StructuredData  map[string]any
}

// ShapeInput レスポンス整形の入力
type ShapeInput struct {
	Style             string
	Prompt            string
	Method            InputMethod
	ProcessedImageRef string
	Image             *ImagePayload
}

// CacheStatus キャッシュ参照の結果種別
type CacheStatus string

const (
	CacheHit         CacheStatus = "hit"
	CacheMiss        CacheStatus = "miss"
	CacheUnavailable CacheStatus = "unavailable"
)

// CacheLookup キャッシュ参照の結果
type CacheLookup struct {
	Status CacheStatus
	Result *ProcessingResult
	Err    error
}

// ResultCache 処理結果キャッシュのインターフェース
type ResultCache interface {
	Lookup(ctx context.Context, key string) CacheLookup
	Store(ctx context.Context, key string, result *ProcessingResult, ttl time.Duration) error
}

// HistoryEntry 処理履歴
type HistoryEntry struct {
	ID        string
	UserID    string
	Mode      Mode
	Style     string
	FromCache bool
	Result    *ProcessingResult
	CreatedAt time.Time
}

// HistoryRepository 処理履歴リポジトリのインターフェース
type HistoryRepository interface {
	Create(ctx context.Context, entry *HistoryEntry) error
	FindByUserID(ctx context.Context, userID string, limit int) ([]*HistoryEntry, error)
}
