package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultRateLimit = 100 // requests per minute
	DefaultBurstSize = 10

	limiterIdleTTL         = 10 * time.Minute
	limiterCleanupInterval = 5 * time.Minute
)

// RateLimiter keeps one token bucket per user
type RateLimiter struct {
	perMinute int
	every     rate.Limit
	burst     int

	mu      sync.Mutex
	buckets map[uuid.UUID]*bucket
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// decision is the outcome of one request against a bucket
type decision struct {
	allowed    bool
	remaining  int
	retryAfter time.Duration
	reset      time.Time
}

// NewRateLimiter creates a new RateLimiter with default settings
func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWithConfig(DefaultRateLimit, DefaultBurstSize)
}

// NewRateLimiterWithConfig creates a RateLimiter allowing requestsPerMinute
// with bursts of up to burstSize
func NewRateLimiterWithConfig(requestsPerMinute int, burstSize int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRateLimit
	}
	rl := &RateLimiter{
		perMinute: requestsPerMinute,
		every:     rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:     burstSize,
		buckets:   make(map[uuid.UUID]*bucket),
		stop:      make(chan struct{}),
	}
	go rl.evictIdle()
	return rl
}

// Allow reports whether userID may make a request now, consuming a token if so
func (r *RateLimiter) Allow(userID uuid.UUID) bool {
	return r.take(userID, time.Now()).allowed
}

func (r *RateLimiter) take(userID uuid.UUID, now time.Time) decision {
	r.mu.Lock()
	b, ok := r.buckets[userID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.every, r.burst)}
		r.buckets[userID] = b
	}
	b.lastSeen = now
	r.mu.Unlock()

	res := b.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return decision{retryAfter: delay, reset: now.Add(delay)}
	}

	tokens := b.limiter.TokensAt(now)
	refill := time.Duration((float64(r.burst) - tokens) / float64(r.every) * float64(time.Second))
	return decision{
		allowed:   true,
		remaining: max(int(tokens), 0),
		reset:     now.Add(refill),
	}
}

func (r *RateLimiter) evictIdle() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			r.mu.Lock()
			for userID, b := range r.buckets {
				if now.Sub(b.lastSeen) > limiterIdleTTL {
					delete(r.buckets, userID)
				}
			}
			r.mu.Unlock()
		case <-r.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (r *RateLimiter) Stop() {
	r.once.Do(func() { close(r.stop) })
}

// RateLimitMiddleware returns an Echo middleware that limits each
// authenticated user. Requests without a user pass through.
func RateLimitMiddleware(rl *RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := GetUserID(c)
			if userID == uuid.Nil {
				return next(c)
			}

			d := rl.take(userID, time.Now())

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(rl.perMinute))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.reset.Unix(), 10))

			if !d.allowed {
				retryAfter := max(int(d.retryAfter.Round(time.Second).Seconds()), 1)
				h.Set("Retry-After", strconv.Itoa(retryAfter))

				log.Warn().
					Str("user_id", userID.String()).
					Int("retry_after", retryAfter).
					Msg("Rate limit exceeded")

				return rateLimitError(c, "Too many requests. Please retry after "+strconv.Itoa(retryAfter)+" seconds.")
			}

			return next(c)
		}
	}
}
