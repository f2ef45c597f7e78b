package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Middleware(t *testing.T) {
	m := New("evimai-api")

	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/process" {
			w.WriteHeader(http.StatusPaymentRequired)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	paths := []string{"/api/process", "/health", "/health", "/random/path"}
	for _, p := range paths {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
	}

	tests := []struct {
		name   string
		path   string
		status string
		want   float64
	}{
		{name: "正常系: 402", path: "/api/process", status: "402", want: 1},
		{name: "正常系: health", path: "/health", status: "200", want: 2},
		{name: "正常系: 未知のパスはother", path: "other", status: "200", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := testutil.ToFloat64(m.requestTotal.WithLabelValues("evimai-api", http.MethodGet, tt.path, tt.status))
			if got != tt.want {
				t.Errorf("requests_total = %v, want %v", got, tt.want)
			}
		})
	}

	if got := testutil.ToFloat64(m.requestInFlight); got != 0 {
		t.Errorf("in_flight_requests = %v, want 0", got)
	}
}

func TestMetrics_Observers(t *testing.T) {
	m := New("evimai-api")

	m.ObserveProcess("redesign", "success")
	m.ObserveProcess("redesign", "success")
	m.ObserveProcess("", "invalid_mode")
	m.ObserveCache("hit")
	m.ObserveGeneration("redesign", "image-to-image", 1500*time.Millisecond)
	m.ObserveWebhook("started", "ok")

	if got := testutil.ToFloat64(m.processTotal.WithLabelValues("evimai-api", "redesign", "success")); got != 2 {
		t.Errorf("processing success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.processTotal.WithLabelValues("evimai-api", "unknown", "invalid_mode")); got != 1 {
		t.Errorf("processing unknown = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheLookupTotal.WithLabelValues("evimai-api", "hit")); got != 1 {
		t.Errorf("cache hit = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.generationDuration); got != 1 {
		t.Errorf("generation series = %d, want 1", got)
	}
	if got := testutil.ToFloat64(m.webhookEventsTotal.WithLabelValues("evimai-api", "started", "ok")); got != 1 {
		t.Errorf("webhook started = %v, want 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New("evimai-api")
	m.ObserveCache("miss")

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "evimai_cache_lookups_total") {
		t.Errorf("metrics output missing cache counter:\n%s", body)
	}
}
