package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config アプリケーション全体の設定
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	FAL        FALConfig        `yaml:"fal"`
	Redis      RedisConfig      `yaml:"redis"`
	MySQL      MySQLConfig      `yaml:"mysql"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Cache      CacheConfig      `yaml:"cache"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Webhook    WebhookConfig    `yaml:"webhook"`
}

// ServerConfig HTTPサーバーの設定
type ServerConfig struct {
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	MaxBodyBytes       int64         `yaml:"max_body_bytes"`
	MaxImageBytes      int64         `yaml:"max_image_bytes"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	// TrustedProxies X-Forwarded-Forを信頼する接続元（IPまたはCIDR）
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// LogConfig ログ出力の設定
type LogConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Service string `yaml:"service"`
}

// FALConfig fal.ai 画像生成APIの設定
type FALConfig struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	ImageToImageModel string        `yaml:"image_to_image_model"`
	TextToImageModel  string        `yaml:"text_to_image_model"`
	Timeout           time.Duration `yaml:"timeout"`
}

// RedisConfig Redisの設定
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig MySQLの設定
type MySQLConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Database    string `yaml:"database"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// LedgerConfig クレジット台帳の設定
type LedgerConfig struct {
	// Backend "mysql" または "memory"
	Backend      string `yaml:"backend"`
	FreeCredits  int    `yaml:"free_credits"`
	BonusCredits int    `yaml:"bonus_credits"`
}

// CacheConfig 結果キャッシュの設定
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// ResilienceConfig 外部API呼び出しのサーキットブレーカー設定
type ResilienceConfig struct {
	BreakerEnabled          bool          `yaml:"breaker_enabled"`
	BreakerMinRequests      uint32        `yaml:"breaker_min_requests"`
	BreakerFailureRatio     float64       `yaml:"breaker_failure_ratio"`
	BreakerOpenTimeout      time.Duration `yaml:"breaker_open_timeout"`
	BreakerHalfOpenMaxCalls uint32        `yaml:"breaker_half_open_max_calls"`
}

// WebhookConfig 課金プロバイダーWebhookの設定
type WebhookConfig struct {
	// Authorization 空の場合は検証しない
	Authorization string `yaml:"authorization"`
}

// Ledgerバックエンドの種類
const (
	LedgerBackendMySQL  = "mysql"
	LedgerBackendMemory = "memory"
)

// Load 設定ファイルを読み込む
func Load(configPath string) (*Config, error) {
	// 設定ファイルが存在しない場合はデフォルト設定を返す
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// 環境変数の展開
	dataStr := os.ExpandEnv(string(data))

	// 未指定の項目はデフォルト値のまま残す
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(dataStr), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig デフォルト設定を返す
func DefaultConfig() *Config {
	// Redis/MySQLのホストはテスト環境では localhost を使用
	redisHost := "redis"
	mysqlHost := "mysql"
	if os.Getenv("GO_ENV") == "test" {
		redisHost = "localhost"
		mysqlHost = "localhost"
	}

	return &Config{
		Server: ServerConfig{
			RateLimitPerMinute: 30,
			MaxBodyBytes:       50 << 20,
			MaxImageBytes:      20 << 20,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       90 * time.Second,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "json",
			Service: "evimai-api",
		},
		FAL: FALConfig{
			APIKey:            os.Getenv("FAL_API_KEY"),
			BaseURL:           "https://fal.run",
			ImageToImageModel: "fal-ai/flux/dev/image-to-image",
			TextToImageModel:  "fal-ai/flux/schnell",
			Timeout:           60 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Host:     redisHost,
			Port:     6379,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
		},
		MySQL: MySQLConfig{
			Host:        mysqlHost,
			Port:        3306,
			User:        "root",
			Password:    os.Getenv("MYSQL_ROOT_PASSWORD"),
			Database:    "evimai",
			AutoMigrate: true,
		},
		Ledger: LedgerConfig{
			Backend:      LedgerBackendMemory,
			FreeCredits:  3,
			BonusCredits: 100,
		},
		Cache: CacheConfig{
			TTL: time.Hour,
		},
		Resilience: ResilienceConfig{
			BreakerEnabled:          true,
			BreakerMinRequests:      5,
			BreakerFailureRatio:     0.5,
			BreakerOpenTimeout:      30 * time.Second,
			BreakerHalfOpenMaxCalls: 1,
		},
		Webhook: WebhookConfig{
			Authorization: os.Getenv("ADAPTY_WEBHOOK_AUTHORIZATION"),
		},
	}
}

// Validate 設定値の整合性を検証する
func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case LedgerBackendMySQL, LedgerBackendMemory:
	default:
		return fmt.Errorf("unknown ledger backend: %q", c.Ledger.Backend)
	}
	if c.Ledger.FreeCredits < 0 {
		return fmt.Errorf("ledger.free_credits must not be negative: %d", c.Ledger.FreeCredits)
	}
	if c.Ledger.BonusCredits < 0 {
		return fmt.Errorf("ledger.bonus_credits must not be negative: %d", c.Ledger.BonusCredits)
	}
	for _, proxy := range c.Server.TrustedProxies {
		if !isIPOrCIDR(strings.TrimSpace(proxy)) {
			return fmt.Errorf("server.trusted_proxies has invalid entry: %q", proxy)
		}
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative: %s", c.Cache.TTL)
	}
	return nil
}

func isIPOrCIDR(s string) bool {
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

// Save 設定をファイルに保存する
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
