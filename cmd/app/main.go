package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"evimai-api/internal/config"
	"evimai-api/internal/logging"
	"evimai-api/internal/presentation/di"
	"evimai-api/internal/presentation/http/router"
)

// AppConfig アプリケーション設定
type AppConfig struct {
	ConfigPath string
	Port       string
}

// ServerInterface サーバーインターフェース（Seam化）
type ServerInterface interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App アプリケーション構造体（Seamパターン）
type App struct {
	config     *AppConfig
	cfg        *config.Config
	container  *di.Container
	server     *http.Server
	serverSeam ServerInterface // テスト用のSeam
}

// NewApp 新しいAppを作成
func NewApp(appCfg *AppConfig) (*App, error) {
	// ポートのデフォルト値設定
	if appCfg.Port == "" {
		appCfg.Port = "8080"
	}

	// 設定の読み込み
	cfg, err := config.Load(appCfg.ConfigPath)
	if err != nil {
		log.Printf("Failed to load config: %v. Using defaults.", err)
		cfg = config.DefaultConfig()
	}

	// 構造化ログの設定
	slog.SetDefault(logging.New(cfg.Log))

	// DIコンテナの初期化
	container, err := di.NewContainer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DI container: %w", err)
	}

	// ルーターの作成
	handler := router.NewRouter(container)

	// サーバーの設定
	server := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	app := &App{
		config:    appCfg,
		cfg:       cfg,
		container: container,
		server:    server,
	}
	// デフォルトでは実際のサーバーを使用
	app.serverSeam = server

	return app, nil
}

// Start サーバーを起動
func (a *App) Start() error {
	// 起動メッセージ
	a.printStartupMessage()

	// サーバー起動（Seamを使用）
	return a.serverSeam.ListenAndServe()
}

// printStartupMessage 起動メッセージを出力
func (a *App) printStartupMessage() {
	fmt.Println("=== EvimAI Processing Gateway ===")
	fmt.Printf("Image Provider: %s\n", a.container.ProviderName())
	fmt.Printf("Ledger Backend: %s\n", a.cfg.Ledger.Backend)
	fmt.Printf("Server listening on http://0.0.0.0:%s\n", a.config.Port)
	fmt.Println()
	fmt.Println("Endpoints:")
	fmt.Println("  POST /api/process                 - Image processing (redesign/staging/estimate/renovation)")
	fmt.Println("  GET  /api/credits?userId=         - Credit balance")
	fmt.Println("  GET  /api/history?userId=         - Processing history")
	fmt.Println("  POST /webhooks/adapty             - Billing webhook")
	fmt.Println("  GET  /health                      - Health check")
	fmt.Println("  GET  /metrics                     - Prometheus metrics")
	fmt.Println()
}

// Shutdown サーバーをシャットダウン
func (a *App) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down server")

	// サーバーのシャットダウン（Seamを使用）
	if err := a.serverSeam.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Redis/MySQL接続のクローズ
	if err := a.container.Close(); err != nil {
		return fmt.Errorf("container close failed: %w", err)
	}

	slog.Info("Server stopped")
	return nil
}

// Run アプリケーションを実行（グレースフルシャットダウン付き）
func (a *App) Run() error {
	// サーバー起動（goroutine）
	serverErr := make(chan error, 1)
	go func() {
		if err := a.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// シグナルの待機
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
		// グレースフルシャットダウン
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		return a.Shutdown(ctx)
	}
}

// defaultConfigPath 既定の設定ファイルパス
func defaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Printf("Failed to get home directory: %v. Using current directory.", err)
		homeDir = "."
	}
	return filepath.Join(homeDir, ".evimai", "config.yaml")
}

// realMain 実際のmain処理（テスト可能にするため分離）
func realMain() error {
	// 設定ファイルパスの取得
	configPath := os.Getenv("EVIMAI_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath()
	}

	// ポート番号の取得
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// アプリケーションの作成
	app, err := NewApp(&AppConfig{
		ConfigPath: configPath,
		Port:       port,
	})
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	// アプリケーションの実行
	return app.Run()
}

func main() {
	if err := realMain(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}
