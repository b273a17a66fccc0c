package server

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/homelab/sentinel/internal/metrics"
)

// requestLimiter throttles the process control surface per remote address.
// The surface fronts the policy engine and the safe executor, so a runaway
// wrapping layer must not be able to spin evaluations or executions faster
// than an operator intended; throttled requests are counted and logged.
type requestLimiter struct {
	perMinute int
	logger    *zap.Logger

	mu      sync.Mutex
	clients map[string]*clientWindow

	stopCh   chan struct{}
	stopOnce sync.Once
}

// clientWindow is one remote address's continuously refilling allowance.
type clientWindow struct {
	allowance float64
	lastSeen  time.Time
}

func newRequestLimiter(perMinute int, logger *zap.Logger) *requestLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	rl := &requestLimiter{
		perMinute: perMinute,
		logger:    logger,
		clients:   make(map[string]*clientWindow),
		stopCh:    make(chan struct{}),
	}
	go rl.evictIdle()
	return rl
}

// wrap returns handler guarded by the per-client limit.
func (rl *requestLimiter) wrap(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(r.RemoteAddr) {
			metrics.RequestsThrottled.Inc()
			rl.logger.Warn("control surface request throttled",
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("path", r.URL.Path),
			)
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

// allow refills the client's allowance proportionally to the time elapsed
// since its last request and spends one unit if any remains.
func (rl *requestLimiter) allow(remoteAddr string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cw, ok := rl.clients[remoteAddr]
	if !ok {
		rl.clients[remoteAddr] = &clientWindow{allowance: float64(rl.perMinute) - 1, lastSeen: now}
		return true
	}

	cw.allowance += now.Sub(cw.lastSeen).Minutes() * float64(rl.perMinute)
	if cw.allowance > float64(rl.perMinute) {
		cw.allowance = float64(rl.perMinute)
	}
	cw.lastSeen = now

	if cw.allowance < 1 {
		return false
	}
	cw.allowance--
	return true
}

// evictIdle drops clients that have been quiet long enough for their
// allowance to be fully refilled anyway.
func (rl *requestLimiter) evictIdle() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := time.Now().Add(-10 * time.Minute)
			for addr, cw := range rl.clients {
				if cw.lastSeen.Before(cutoff) {
					delete(rl.clients, addr)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *requestLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}
