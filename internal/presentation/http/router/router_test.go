package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"evimai-api/internal/config"
	"evimai-api/internal/presentation/di"
)

func newTestRouter(t *testing.T, mutate func(cfg *config.Config)) http.Handler {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = false
	cfg.Ledger.Backend = config.LedgerBackendMemory
	cfg.FAL.APIKey = ""
	if mutate != nil {
		mutate(cfg)
	}

	container, err := di.NewContainer(cfg)
	if err != nil {
		t.Fatalf("Failed to create container: %v", err)
	}
	t.Cleanup(func() { _ = container.Close() })

	return NewRouter(container)
}

func TestRouter_Endpoints(t *testing.T) {
	router := newTestRouter(t, nil)

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		expectedStatus int
	}{
		{name: "正常系: GET /health", method: http.MethodGet, path: "/health", expectedStatus: http.StatusOK},
		{name: "正常系: GET /metrics", method: http.MethodGet, path: "/metrics", expectedStatus: http.StatusOK},
		{name: "正常系: GET /api/credits", method: http.MethodGet, path: "/api/credits?userId=u1", expectedStatus: http.StatusOK},
		{name: "正常系: GET /api/history", method: http.MethodGet, path: "/api/history?userId=u1", expectedStatus: http.StatusOK},
		{name: "正常系: POST /webhooks/adapty", method: http.MethodPost, path: "/webhooks/adapty", body: `{"type":"unknown"}`, expectedStatus: http.StatusOK},
		{name: "異常系: GET /api/process", method: http.MethodGet, path: "/api/process", expectedStatus: http.StatusMethodNotAllowed},
		{name: "異常系: 未知のモード", method: http.MethodPost, path: "/api/process", body: `{"mode":"paint","userId":"u1"}`, expectedStatus: http.StatusBadRequest},
		{name: "異常系: 存在しないパス", method: http.MethodGet, path: "/nonexistent", expectedStatus: http.StatusNotFound},
		{name: "正常系: プリフライト", method: http.MethodOptions, path: "/api/process", expectedStatus: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d, body = %s", tt.expectedStatus, rec.Code, rec.Body.String())
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("X-Request-ID header not set")
			}
		})
	}
}

func TestRouter_ProcessWithoutAPIKey(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(`{"mode":"redesign","userId":"u1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}
	if body["code"] != "external_api_error" {
		t.Errorf("code = %v, want external_api_error", body["code"])
	}

	// 失敗した処理はクレジットを消費しない
	req = httptest.NewRequest(http.MethodGet, "/api/credits?userId=u1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var credits struct {
		Credits int `json:"credits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &credits); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}
	if credits.Credits != 3 {
		t.Errorf("credits = %d, want 3", credits.Credits)
	}
}

func TestRouter_RateLimit(t *testing.T) {
	router := newTestRouter(t, func(cfg *config.Config) {
		cfg.Server.RateLimitPerMinute = 1
	})

	do := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := do(); got == http.StatusTooManyRequests {
		t.Fatalf("1st request = %d", got)
	}
	if got := do(); got != http.StatusTooManyRequests {
		t.Errorf("2nd request = %d, want 429", got)
	}

	// 他のエンドポイントは制限しない
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("/health = %d, want 200", rec.Code)
	}
}

func TestRouter_RateLimitBehindTrustedProxy(t *testing.T) {
	router := newTestRouter(t, func(cfg *config.Config) {
		cfg.Server.RateLimitPerMinute = 1
		cfg.Server.TrustedProxies = []string{"192.0.2.0/24"}
	})

	do := func(remote, forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(`{}`))
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := do("192.0.2.1:1000", "203.0.113.1"); got == http.StatusTooManyRequests {
		t.Fatalf("1st client = %d", got)
	}
	// プロキシ経由の別クライアントは独立
	if got := do("192.0.2.1:1000", "203.0.113.2"); got == http.StatusTooManyRequests {
		t.Errorf("2nd client = %d, want not limited", got)
	}
	// 信頼外の接続元ではヘッダーを変えても制限される
	if got := do("198.51.100.1:1000", "203.0.113.3"); got == http.StatusTooManyRequests {
		t.Fatalf("direct 1st = %d", got)
	}
	if got := do("198.51.100.1:1000", "203.0.113.4"); got != http.StatusTooManyRequests {
		t.Errorf("direct spoofed = %d, want 429", got)
	}
}

func TestRouter_MetricsExposeRequests(t *testing.T) {
	router := newTestRouter(t, nil)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "evimai_http_requests_total") {
		t.Error("metrics output should contain evimai_http_requests_total")
	}
}
