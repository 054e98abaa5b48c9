package api

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/natssync/mstress/internal/config"
	"github.com/natssync/mstress/pkg/errors"
)

// RateLimiter enforces per-minute budgets per client IP and across all
// clients. Both budgets may be spent in a single burst.
type RateLimiter struct {
	perIP            int
	global           *rate.Limiter
	ipLimits         map[string]*ipLimit
	ipMu             sync.Mutex
	lastCleanup      time.Time
	cleanupInterval  time.Duration
	ipLimitTTL       time.Duration
	clientIPResolver *ClientIPResolver
	now              func() time.Time
}

type ipLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

func NewRateLimiter(cfg *config.Config) *RateLimiter {
	return &RateLimiter{
		perIP:            cfg.RateLimitPerIP,
		global:           rate.NewLimiter(perMinute(cfg.GlobalRateLimit), cfg.GlobalRateLimit),
		ipLimits:         make(map[string]*ipLimit),
		lastCleanup:      time.Now(),
		cleanupInterval:  5 * time.Minute,
		ipLimitTTL:       10 * time.Minute,
		clientIPResolver: NewClientIPResolver(cfg),
		now:              time.Now,
	}
}

// Allow charges one request to ip. The global budget is only spent when the
// per-IP budget allows the request.
func (rl *RateLimiter) Allow(ip string) bool {
	now := rl.now()
	limiter := rl.limiterFor(ip, now)
	if !limiter.AllowN(now, 1) {
		return false
	}
	return rl.global.AllowN(now, 1)
}

func (rl *RateLimiter) ClientIP(r *http.Request) string {
	if rl.clientIPResolver != nil {
		return rl.clientIPResolver.FromRequest(r)
	}
	return ipString(parseRemoteIP(r.RemoteAddr))
}

// SetCleanupPolicy overrides cleanup interval and TTL (mainly for tests).
func (rl *RateLimiter) SetCleanupPolicy(cleanupInterval, ipLimitTTL time.Duration) {
	rl.ipMu.Lock()
	defer rl.ipMu.Unlock()
	rl.cleanupInterval = cleanupInterval
	rl.ipLimitTTL = ipLimitTTL
	rl.lastCleanup = rl.now()
}

func (rl *RateLimiter) Tracked() int {
	rl.ipMu.Lock()
	defer rl.ipMu.Unlock()
	return len(rl.ipLimits)
}

func (rl *RateLimiter) limiterFor(ip string, now time.Time) *rate.Limiter {
	rl.ipMu.Lock()
	defer rl.ipMu.Unlock()

	if rl.cleanupInterval > 0 && rl.ipLimitTTL > 0 && now.Sub(rl.lastCleanup) >= rl.cleanupInterval {
		for key, l := range rl.ipLimits {
			if now.Sub(l.lastSeen) >= rl.ipLimitTTL {
				delete(rl.ipLimits, key)
			}
		}
		rl.lastCleanup = now
	}

	l, ok := rl.ipLimits[ip]
	if !ok {
		l = &ipLimit{limiter: rate.NewLimiter(perMinute(rl.perIP), rl.perIP)}
		rl.ipLimits[ip] = l
	}
	l.lastSeen = now
	return l.limiter
}

// skipRateLimitPaths are polled by probes and dashboards.
var skipRateLimitPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
	"/events":  true,
}

func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipRateLimitPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			if !limiter.Allow(limiter.ClientIP(r)) {
				w.Header().Set("Retry-After", "60")
				respondError(w, errors.ErrRateLimitExceeded(), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
