package di

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"evimai-api/internal/config"
	creditDomain "evimai-api/internal/modules/credit/domain"
	creditHandler "evimai-api/internal/modules/credit/presentation/handler"
	creditUsecase "evimai-api/internal/modules/credit/usecase"
	processingDomain "evimai-api/internal/modules/processing/domain"
	processingHandler "evimai-api/internal/modules/processing/presentation/handler"
	processingUsecase "evimai-api/internal/modules/processing/usecase"
	sharedAI "evimai-api/internal/modules/shared/infrastructure/ai"
	sharedCache "evimai-api/internal/modules/shared/infrastructure/cache"
	sharedDB "evimai-api/internal/modules/shared/infrastructure/database"
	sharedMemory "evimai-api/internal/modules/shared/infrastructure/memory"
	sharedMetrics "evimai-api/internal/modules/shared/infrastructure/metrics"
	"evimai-api/internal/modules/shared/infrastructure/resilience"
	"evimai-api/internal/presentation/http/handler"
)

// startupProbeTimeout 起動時の依存先疎通確認のタイムアウト
const startupProbeTimeout = 2 * time.Second

// Container DIコンテナ
type Container struct {
	cfg *config.Config

	// Shared Infrastructure
	metrics   *sharedMetrics.Metrics
	generator *sharedAI.FALRepository
	cacheRepo *sharedCache.RedisRepository
	db        *bun.DB

	// Credit Module
	ledger        *creditUsecase.Ledger
	creditHandler *creditHandler.CreditHandler

	// Processing Module
	gateway        *processingUsecase.Gateway
	processHandler *processingHandler.ProcessHandler

	healthHandler *handler.HealthHandler
}

// NewContainer 新しいContainerを作成
//
// Redisに接続できなくても起動は続行し、キャッシュなしで動作する。
// MySQLバックエンドの接続失敗はエラーとして返す。
func NewContainer(cfg *config.Config) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	container := &Container{cfg: cfg}

	// Shared Infrastructure: Metrics
	container.metrics = sharedMetrics.New(cfg.Log.Service)

	// Shared Infrastructure: Image Generator
	breaker := resilience.NewBreaker(cfg.Resilience, sharedAI.IsBreakerFailure)
	container.generator = sharedAI.NewFALRepository(&cfg.FAL, breaker)
	if !container.generator.Configured() {
		slog.Warn("FAL API key is not configured, processing requests will fail")
	}

	// Shared Infrastructure: Result Cache
	var resultCache processingDomain.ResultCache
	var cachePinger handler.Pinger
	if cfg.Redis.Enabled {
		container.cacheRepo = sharedCache.NewRedisRepository(&cfg.Redis)

		ctx, cancel := context.WithTimeout(context.Background(), startupProbeTimeout)
		if err := container.cacheRepo.Ping(ctx); err != nil {
			slog.Warn("Redis is unreachable, continuing with degraded cache", "error", err)
		}
		cancel()

		resultCache = sharedCache.NewResultCache(container.cacheRepo)
		cachePinger = container.cacheRepo
	} else {
		slog.Info("Result cache disabled")
	}

	// Shared Infrastructure: Account and History Stores
	accountStore, historyStore, err := container.buildStores(cfg)
	if err != nil {
		_ = container.Close()
		return nil, err
	}

	// Credit Module
	container.ledger = creditUsecase.NewLedger(accountStore, cfg.Ledger.FreeCredits)
	container.creditHandler = creditHandler.NewCreditHandler(
		container.ledger,
		container.metrics,
		cfg.Ledger.BonusCredits,
		cfg.Webhook.Authorization,
	)

	// Processing Module
	registry, err := processingDomain.DefaultRegistry()
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("failed to build mode registry: %w", err)
	}
	container.gateway = processingUsecase.NewGateway(
		registry,
		container.ledger,
		container.generator,
		resultCache,
		historyStore,
		container.metrics,
		processingUsecase.Options{
			CacheTTL:          cfg.Cache.TTL,
			GenerationTimeout: cfg.FAL.Timeout,
		},
	)
	container.processHandler = processingHandler.NewProcessHandler(
		container.gateway,
		container.ledger,
		cfg.Server.MaxBodyBytes,
		cfg.Server.MaxImageBytes,
	)

	container.healthHandler = handler.NewHealthHandler(cfg.Log.Service, cachePinger, container.generator)

	return container, nil
}

// buildStores 設定されたバックエンドの口座ストアと履歴ストアを作成
func (c *Container) buildStores(cfg *config.Config) (creditDomain.AccountStore, processingDomain.HistoryRepository, error) {
	if cfg.Ledger.Backend != config.LedgerBackendMySQL {
		slog.Info("Using in-memory credit ledger")
		return sharedMemory.NewCreditStore(), sharedMemory.NewHistoryStore(), nil
	}

	db, err := sharedDB.OpenMySQL(&cfg.MySQL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize credit ledger: %w", err)
	}
	c.db = db

	if cfg.MySQL.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sharedDB.CreateSchema(ctx, db); err != nil {
			return nil, nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	slog.Info("Using MySQL credit ledger", "host", cfg.MySQL.Host, "database", cfg.MySQL.Database)
	return sharedDB.NewBunCreditRepository(db), sharedDB.NewBunHistoryRepository(db), nil
}

// Config 設定を取得
func (c *Container) Config() *config.Config {
	return c.cfg
}

// Metrics メトリクスを取得
func (c *Container) Metrics() *sharedMetrics.Metrics {
	return c.metrics
}

// Ledger クレジット台帳を取得
func (c *Container) Ledger() *creditUsecase.Ledger {
	return c.ledger
}

// Gateway 処理ゲートウェイを取得
func (c *Container) Gateway() *processingUsecase.Gateway {
	return c.gateway
}

// ProviderName 画像生成プロバイダー名を取得
func (c *Container) ProviderName() string {
	return c.generator.ProviderName()
}

// ProcessHandler 処理APIハンドラーを取得
func (c *Container) ProcessHandler() *processingHandler.ProcessHandler {
	return c.processHandler
}

// CreditHandler クレジットAPIハンドラーを取得
func (c *Container) CreditHandler() *creditHandler.CreditHandler {
	return c.creditHandler
}

// HealthHandler ヘルスチェックハンドラーを取得
func (c *Container) HealthHandler() *handler.HealthHandler {
	return c.healthHandler
}

// Close リソースをクローズ
func (c *Container) Close() error {
	if c.cacheRepo != nil {
		if err := c.cacheRepo.Close(); err != nil {
			return fmt.Errorf("failed to close cache repository: %w", err)
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}

	return nil
}
