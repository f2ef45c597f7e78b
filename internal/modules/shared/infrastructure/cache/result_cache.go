package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"evimai-api/internal/modules/processing/domain"
)

// KeyValueStore バイト列を保存するキーバリューストア
type KeyValueStore interface {
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// ResultCache 処理結果をJSONで保存するキャッシュ
type ResultCache struct {
	store KeyValueStore
}

// NewResultCache 新しいResultCacheを作成
func NewResultCache(store KeyValueStore) *ResultCache {
	return &ResultCache{store: store}
}

// Lookup キャッシュを参照（ヒット・ミス・到達不能を区別して返す）
func (c *ResultCache) Lookup(ctx context.Context, key string) domain.CacheLookup {
	data, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return domain.CacheLookup{Status: domain.CacheMiss}
	}
	if err != nil {
		return domain.CacheLookup{
			Status: domain.CacheUnavailable,
			Err:    fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err),
		}
	}

	var result domain.ProcessingResult
	if err := json.Unmarshal(data, &result); err != nil || !result.Success {
		// 壊れたエントリはミス扱いにして削除
		slog.Warn("Discarding corrupt cache entry", "key", key, "error", err)
		_ = c.store.Delete(ctx, key)
		return domain.CacheLookup{Status: domain.CacheMiss}
	}

	result.FromCache = true
	return domain.CacheLookup{Status: domain.CacheHit, Result: &result}
}

// Store 成功結果を保存
func (c *ResultCache) Store(ctx context.Context, key string, result *domain.ProcessingResult, ttl time.Duration) error {
	if result == nil || !result.Success {
		return fmt.Errorf("refusing to cache unsuccessful result")
	}

	stored := *result
	stored.FromCache = false
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}
