package httpx

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter decides whether a keyed request fits inside its window.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) rateDecision
	Close()
}

// keyTracker is implemented by limiters that can report their live keys.
type keyTracker interface {
	Tracked() int
}

type rateDecision struct {
	allowed   bool
	count     int
	windowEnd time.Time
}

// rateWindow holds one key's hits inside an aligned window.
type rateWindow struct {
	start time.Time
	end   time.Time
	hits  int
}

// memoryRateLimiter counts hits per key in windows aligned to multiples of
// the window length, the way counter buckets align to their interval.
type memoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]rateWindow
	now     func() time.Time
	sweep   time.Duration
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryRateLimiter returns a limiter held in process memory. Expired
// windows are swept once per webhook window.
func NewMemoryRateLimiter() RateLimiter {
	return newMemoryRateLimiter(rateWindowDefault)
}

func newMemoryRateLimiter(sweep time.Duration) *memoryRateLimiter {
	if sweep <= 0 {
		sweep = rateWindowDefault
	}
	rl := &memoryRateLimiter{
		windows: make(map[string]rateWindow),
		now:     time.Now,
		sweep:   sweep,
		stop:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

func (rl *memoryRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = rateWindowDefault
	}
	start := rl.now().Truncate(window)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, ok := rl.windows[key]
	if !ok || !w.start.Equal(start) {
		w = rateWindow{start: start, end: start.Add(window)}
	}
	if w.hits >= limit {
		return rateDecision{allowed: false, count: w.hits, windowEnd: w.end}
	}
	w.hits++
	rl.windows[key] = w
	return rateDecision{allowed: true, count: w.hits, windowEnd: w.end}
}

// Tracked reports how many keys currently hold a window.
func (rl *memoryRateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

func (rl *memoryRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.expire(rl.now())
		case <-rl.stop:
			return
		}
	}
}

// expire drops every window that ended at or before now.
func (rl *memoryRateLimiter) expire(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, w := range rl.windows {
		if !now.Before(w.end) {
			delete(rl.windows, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {
	rl.once.Do(func() {
		close(rl.stop)
	})
}

// withRateLimit keys are scoped by route.
func (r *Router) withRateLimit(route string, limit int, window time.Duration, keyFn func(*http.Request) string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if limit <= 0 || r.limiter == nil {
			next(w, req)
			return
		}
		key := keyFn(req)
		if key == "" {
			key = rateLimitKeyIP(req)
		}
		decision := r.limiter.Allow(route+"|"+key, limit, window)
		r.applyRateHeaders(w, limit, decision)
		if !decision.allowed {
			r.recordRateLimitHit(route, rateMetricKey(key))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

func rateLimitKeyIP(req *http.Request) string {
	host := clientIP(req)
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}

// rateLimitKeyHook keys webhook traffic by the sending hook.
func rateLimitKeyHook(req *http.Request) string {
	if id := strings.TrimSpace(req.Header.Get("X-GitHub-Hook-ID")); id != "" {
		return "hook:" + id
	}
	return ""
}

func rateMetricKey(key string) string {
	kind, _, found := strings.Cut(key, ":")
	if !found || kind == "" {
		return "unknown"
	}
	return kind
}
