package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}

	if cfg.FAL.ImageToImageModel == "" || cfg.FAL.TextToImageModel == "" {
		t.Error("Expected non-empty FAL models")
	}

	if cfg.Redis.Port <= 0 {
		t.Error("Expected positive Redis port")
	}

	if cfg.MySQL.Port <= 0 {
		t.Error("Expected positive MySQL port")
	}

	if cfg.Ledger.FreeCredits != 3 {
		t.Errorf("FreeCredits = %d, want 3", cfg.Ledger.FreeCredits)
	}

	if cfg.Ledger.BonusCredits != 100 {
		t.Errorf("BonusCredits = %d, want 100", cfg.Ledger.BonusCredits)
	}

	if cfg.Cache.TTL != time.Hour {
		t.Errorf("Cache.TTL = %s, want 1h", cfg.Cache.TTL)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg == nil {
		t.Fatal("Expected default config, got nil")
	}
}

func TestSave(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FAL.APIKey = "saved-key"
	cfg.Cache.TTL = 90 * time.Minute
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := cfg.Save(configPath)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// ファイルが存在することを確認
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	// 読み込んで確認
	loadedCfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loadedCfg.FAL.APIKey != "saved-key" {
		t.Errorf("FAL.APIKey = %q, want saved-key", loadedCfg.FAL.APIKey)
	}
	if loadedCfg.Cache.TTL != 90*time.Minute {
		t.Errorf("Cache.TTL = %s, want 1h30m", loadedCfg.Cache.TTL)
	}
}

func TestSave_InvalidPath(t *testing.T) {
	cfg := DefaultConfig()
	// 無効なパス（書き込み不可）
	err := cfg.Save("/invalid/path/that/does/not/exist/config.yaml")
	if err == nil {
		t.Error("Expected error for invalid path, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	// 無効なYAMLファイルを作成
	err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644)
	if err != nil {
		t.Fatalf("Failed to create invalid YAML file: %v", err)
	}

	// 無効なYAMLの場合はエラーを返すことを確認
	_, err = Load(configPath)
	if err == nil {
		t.Error("Expected error for invalid YAML, got nil")
	}
}

func TestLoad_PartialYAMLKeepsDefaults(t *testing.T) {
	t.Setenv("EVIMAI_TEST_FAL_KEY", "env-key")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.yaml")
	content := `fal:
  api_key: ${EVIMAI_TEST_FAL_KEY}
cache:
  ttl: 30m
ledger:
  backend: memory
  free_credits: 5
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.FAL.APIKey != "env-key" {
		t.Errorf("FAL.APIKey = %q, want env-key", cfg.FAL.APIKey)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("Cache.TTL = %s, want 30m", cfg.Cache.TTL)
	}
	if cfg.Ledger.FreeCredits != 5 {
		t.Errorf("Ledger.FreeCredits = %d, want 5", cfg.Ledger.FreeCredits)
	}
	// 未指定の項目はデフォルト値
	if cfg.Ledger.BonusCredits != 100 {
		t.Errorf("Ledger.BonusCredits = %d, want 100", cfg.Ledger.BonusCredits)
	}
	if cfg.FAL.TextToImageModel != "fal-ai/flux/schnell" {
		t.Errorf("FAL.TextToImageModel = %q, want default", cfg.FAL.TextToImageModel)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "正常系: デフォルト設定",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "正常系: MySQLバックエンド",
			mutate:  func(c *Config) { c.Ledger.Backend = LedgerBackendMySQL },
			wantErr: false,
		},
		{
			name:    "異常系: 未知のバックエンド",
			mutate:  func(c *Config) { c.Ledger.Backend = "sqlite" },
			wantErr: true,
		},
		{
			name:    "異常系: 負の無料クレジット",
			mutate:  func(c *Config) { c.Ledger.FreeCredits = -1 },
			wantErr: true,
		},
		{
			name:    "異常系: 負のボーナスクレジット",
			mutate:  func(c *Config) { c.Ledger.BonusCredits = -5 },
			wantErr: true,
		},
		{
			name:    "境界値: 無料クレジット0",
			mutate:  func(c *Config) { c.Ledger.FreeCredits = 0 },
			wantErr: false,
		},
		{
			name:    "異常系: 負のTTL",
			mutate:  func(c *Config) { c.Cache.TTL = -time.Second },
			wantErr: true,
		},
		{
			name:    "正常系: 信頼済みプロキシ",
			mutate:  func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/8", "127.0.0.1"} },
			wantErr: false,
		},
		{
			name:    "異常系: 不正な信頼済みプロキシ",
			mutate:  func(c *Config) { c.Server.TrustedProxies = []string{"load-balancer"} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
