package router

import (
	"log/slog"
	"net/http"

	"evimai-api/internal/presentation/di"
	"evimai-api/internal/presentation/http/middleware"
)

// NewRouter 新しいルーターを作成
func NewRouter(container *di.Container) http.Handler {
	mux := http.NewServeMux()
	cfg := container.Config()

	// Processing API ハンドラー
	processHandler := container.ProcessHandler()
	trusted, err := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		// Loadで検証済みのため通常は到達しない
		slog.Warn("Ignoring trusted proxies", "error", err)
		trusted = nil
	}
	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitPerMinute, trusted...)
	mux.Handle("/api/process", limiter.Middleware(http.HandlerFunc(processHandler.HandleProcess)))
	mux.HandleFunc("/api/history", processHandler.HandleHistory)

	// Credit API ハンドラー
	creditHandler := container.CreditHandler()
	mux.HandleFunc("/api/credits", creditHandler.HandleCredits)
	mux.HandleFunc("/webhooks/adapty", creditHandler.HandleWebhook)

	// Health check / Metrics
	mux.Handle("/health", container.HealthHandler())
	mux.Handle("/metrics", container.Metrics().Handler())

	// ミドルウェアの適用
	var h http.Handler = mux
	h = middleware.CORS(h)
	h = container.Metrics().Middleware(h)
	h = middleware.Recovery(h)
	h = middleware.LoggerWithHealthCheck(h)
	h = middleware.RequestID(h)

	return h
}
