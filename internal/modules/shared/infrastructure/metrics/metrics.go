package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "evimai"

// knownPaths ラベルに使うパス（それ以外は "other" にまとめる）
var knownPaths = map[string]bool{
	"/api/process":     true,
	"/api/credits":     true,
	"/api/history":     true,
	"/webhooks/adapty": true,
	"/health":          true,
	"/metrics":         true,
}

// Metrics Prometheusメトリクス
type Metrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	requestInFlight    prometheus.Gauge
	processTotal       *prometheus.CounterVec
	cacheLookupTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	webhookEventsTotal *prometheus.CounterVec
}

// New 専用レジストリにメトリクスを登録して作成
func New(service string) *Metrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processing",
			Name:      "requests_total",
			Help:      "Processing requests by mode and outcome.",
		},
		[]string{"service", "mode", "outcome"},
	)
	cacheLookupTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Result cache lookups by status.",
		},
		[]string{"service", "status"},
	)
	generationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "duration_seconds",
			Help:      "Image generation call duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"service", "mode", "method"},
	)
	webhookEventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Billing webhook events by type and outcome.",
		},
		[]string{"service", "event", "outcome"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		processTotal,
		cacheLookupTotal,
		generationDuration,
		webhookEventsTotal,
	)

	return &Metrics{
		registry:           registry,
		service:            service,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		processTotal:       processTotal,
		cacheLookupTotal:   cacheLookupTotal,
		generationDuration: generationDuration,
		webhookEventsTotal: webhookEventsTotal,
	}
}

// Registry メトリクスのレジストリ
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics のハンドラー
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware HTTPリクエストを計測
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(m.service, r.Method, path, strconv.Itoa(recorder.statusCode)).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// ObserveProcess 処理結果を記録
func (m *Metrics) ObserveProcess(mode, outcome string) {
	if mode == "" {
		mode = "unknown"
	}
	m.processTotal.WithLabelValues(m.service, mode, outcome).Inc()
}

// ObserveCache キャッシュ参照結果を記録
func (m *Metrics) ObserveCache(status string) {
	m.cacheLookupTotal.WithLabelValues(m.service, status).Inc()
}

// ObserveGeneration 画像生成の所要時間を記録
func (m *Metrics) ObserveGeneration(mode, method string, d time.Duration) {
	m.generationDuration.WithLabelValues(m.service, mode, method).Observe(d.Seconds())
}

// ObserveWebhook Webhookイベントを記録
func (m *Metrics) ObserveWebhook(event, outcome string) {
	if event == "" {
		event = "unknown"
	}
	m.webhookEventsTotal.WithLabelValues(m.service, event, outcome).Inc()
}

func normalizePath(path string) string {
	if knownPaths[path] {
		return path
	}
	return "other"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
