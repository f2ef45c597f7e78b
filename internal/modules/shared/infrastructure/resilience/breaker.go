package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"evimai-api/internal/config"
)

// ErrorClassifier エラーをブレーカーの失敗として数えるか判定
type ErrorClassifier func(err error) bool

// Breaker 操作名ごとのサーキットブレーカー
type Breaker struct {
	cfg        config.ResilienceConfig
	classifier ErrorClassifier

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewBreaker 新しいBreakerを作成（classifierがnilなら全エラーを失敗として数える）
func NewBreaker(cfg config.ResilienceConfig, classifier ErrorClassifier) *Breaker {
	if classifier == nil {
		classifier = func(error) bool { return true }
	}
	return &Breaker{
		cfg:        normalize(cfg),
		classifier: classifier,
		breakers:   make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Execute ブレーカー経由で実行（無効時はそのまま実行）
func (b *Breaker) Execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.cfg.BreakerEnabled {
		return fn(ctx)
	}

	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}

	_, err := b.circuitBreaker(op).Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// State 操作のブレーカー状態
func (b *Breaker) State(operation string) gobreaker.State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if breaker, ok := b.breakers[operation]; ok {
		return breaker.State()
	}
	return gobreaker.StateClosed
}

func (b *Breaker) circuitBreaker(operation string) *gobreaker.CircuitBreaker[any] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if breaker, ok := b.breakers[operation]; ok {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        operation,
		MaxRequests: b.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     b.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < b.cfg.BreakerMinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= b.cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !b.classifier(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "operation", name, "from", from.String(), "to", to.String())
		},
	}

	breaker := gobreaker.NewCircuitBreaker[any](settings)
	b.breakers[operation] = breaker
	return breaker
}

// IsCircuitOpen ブレーカーが開いていて実行されなかったか
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func normalize(cfg config.ResilienceConfig) config.ResilienceConfig {
	out := cfg
	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = 5
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = 0.5
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = 30 * time.Second
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = 1
	}
	return out
}
