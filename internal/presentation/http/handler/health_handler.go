package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Version サーバーのバージョン
const Version = "1.0.0"

// healthProbeTimeout 依存先の疎通確認のタイムアウト
const healthProbeTimeout = 2 * time.Second

// 依存先の状態
const (
	DependencyConnected    = "connected"
	DependencyDisconnected = "disconnected"
	DependencyDisabled     = "disabled"
	DependencyConfigured   = "configured"
	DependencyMissing      = "missing"
)

// Pinger 疎通確認できる依存先
type Pinger interface {
	Ping(ctx context.Context) error
}

// GeneratorStatus 画像生成APIの設定状態
type GeneratorStatus interface {
	Configured() bool
}

// HealthHandler ヘルスチェックのハンドラー
type HealthHandler struct {
	service   string
	cache     Pinger
	generator GeneratorStatus
	startedAt time.Time
	now       func() time.Time
}

// NewHealthHandler 新しいHealthHandlerを作成（cacheがnilならキャッシュ無効として扱う）
func NewHealthHandler(service string, cache Pinger, generator GeneratorStatus) *HealthHandler {
	return &HealthHandler{
		service:   service,
		cache:     cache,
		generator: generator,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// HealthResponse ヘルスチェックのレスポンス
type HealthResponse struct {
	Status        string            `json:"status"`
	Service       string            `json:"service"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Timestamp     string            `json:"timestamp"`
	Dependencies  map[string]string `json:"dependencies"`
}

// ServeHTTP ヘルスチェックを処理
//
// 依存先が落ちていても200を返し、statusをdegradedにする。
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	deps := map[string]string{
		"cache":     h.cacheStatus(r.Context()),
		"generator": DependencyMissing,
	}
	if h.generator != nil && h.generator.Configured() {
		deps["generator"] = DependencyConfigured
	}

	status := "ok"
	if deps["cache"] == DependencyDisconnected || deps["generator"] == DependencyMissing {
		status = "degraded"
	}

	now := h.now()
	response := HealthResponse{
		Status:        status,
		Service:       h.service,
		Version:       Version,
		UptimeSeconds: int64(now.Sub(h.startedAt).Seconds()),
		Timestamp:     now.UTC().Format(time.RFC3339),
		Dependencies:  deps,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

func (h *HealthHandler) cacheStatus(ctx context.Context) string {
	if h.cache == nil {
		return DependencyDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	if err := h.cache.Ping(ctx); err != nil {
		return DependencyDisconnected
	}
	return DependencyConnected
}
