package httpapi

import (
	"net/http"
	"sync"
	"time"

	"miot-vitals/internal/domain"
	"miot-vitals/internal/ingest"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// corsMiddleware 允许任意来源（设备/模拟器直连），并消化 OPTIONS 预检
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "authorization, content-type, x-signature")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IPRateLimiter 每来源IP一个令牌桶，定期回收闲置条目。
// 429 拒绝和管道拒绝一样进审计日志：洪水留痕，事件不含请求体
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rps      rate.Limit
	burst    int
	sink     ingest.AnomalyRecorder // 可为 nil
	done     chan struct{}
	logger   *zap.Logger
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPRateLimiter(rps float64, burst int, sink ingest.AnomalyRecorder, logger *zap.Logger) *IPRateLimiter {
	l := &IPRateLimiter{
		limiters: map[string]*limiterEntry{},
		rps:      rate.Limit(rps),
		burst:    burst,
		sink:     sink,
		done:     make(chan struct{}),
		logger:   logger,
	}
	go l.cleanupLoop()
	return l
}

// Stop 终止后台回收协程
func (l *IPRateLimiter) Stop() {
	close(l.done)
}

// Allow 判断该来源是否还有配额
func (l *IPRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	entry, ok := l.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	l.mu.Unlock()

	return entry.limiter.Allow()
}

func (l *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.mu.Lock()
			for ip, entry := range l.limiters {
				if time.Since(entry.lastSeen) > 3*time.Minute {
					delete(l.limiters, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Middleware 包装接入路由：超出配额直接 429，不进入管道
func (l *IPRateLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.Allow(ip) {
			l.logger.Warn("request rate limited", zap.String("ip", ip))
			// 限流发生在读体之前，patientId 未知，只记来源
			if l.sink != nil {
				l.sink.Record(domain.SecurityEvent{
					EventType: domain.EventRateLimited,
					Metadata: map[string]string{
						"origin": ip,
						"reason": "Rate limit exceeded",
					},
				})
			}
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next(w, r)
	}
}
