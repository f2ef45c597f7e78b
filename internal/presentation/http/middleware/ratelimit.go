package middleware

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitorTTL 最後のアクセスから制限器を破棄するまでの時間
const visitorTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter クライアントIPごとのトークンバケット
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time

	// trusted X-Forwarded-Forを信頼するプロキシ
	trusted []netip.Prefix

	lastSweep time.Time
}

// ParseTrustedProxies IPまたはCIDRの一覧をプレフィックスに変換
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// NewRateLimiter 1分あたりperMinute回を上限とするRateLimiterを作成
//
// X-Forwarded-Forは接続元がtrustedProxiesに含まれる場合のみ参照する。
func NewRateLimiter(perMinute int, trustedProxies ...netip.Prefix) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    perMinute,
		now:      time.Now,
		trusted:  trustedProxies,
	}
}

// Allow クライアントのリクエストを許可するか
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now

	if now.Sub(l.lastSweep) > visitorTTL {
		for k, other := range l.visitors {
			if now.Sub(other.lastSeen) > visitorTTL {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	return v.limiter.AllowN(now, 1)
}

// Middleware 上限を超えたリクエストに429を返す
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || l.Allow(l.clientIP(r)) {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "Too many requests", "rate_limited")
	})
}

// clientIP 制限のキーとなるクライアントIP
//
// 信頼済みプロキシ経由の場合はX-Forwarded-Forを右から辿り、
// 最初の信頼外のIPを返す。それ以外は接続元を返す。
func (l *RateLimiter) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	remote, err := netip.ParseAddr(host)
	if err != nil {
		return host
	}
	if !l.isTrusted(remote) {
		return remote.Unmap().String()
	}

	xf := r.Header.Values("X-Forwarded-For")
	hops := strings.Split(strings.Join(xf, ","), ",")
	client := remote.Unmap()
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		addr, err := netip.ParseAddr(hop)
		if err != nil {
			break
		}
		client = addr.Unmap()
		if !l.isTrusted(client) {
			break
		}
	}
	return client.String()
}

func (l *RateLimiter) isTrusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range l.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
