// Package ratelimit implements the three rate/capacity controls named in
// SPEC_FULL.md §11: ingestion events-per-minute-per-source, WS
// inputs-per-second-per-session, and a concurrent-connections-per-IP cap.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/breakpointhq/breakpoint/internal/config"
	"github.com/breakpointhq/breakpoint/internal/logging"
	"github.com/breakpointhq/breakpoint/internal/metrics"
)

// RateLimiter holds the token-bucket limiter instances used across the
// ingestion API and WS sessions, plus the process-wide IP connection
// counter required by §4.F.
type RateLimiter struct {
	eventsPerSource *limiter.Limiter
	inputsPerSession *limiter.Limiter
	store           limiter.Store
	redisClient     *redis.Client

	ipMu       sync.Mutex
	ipCounts   map[string]int
	ipLimit    int
}

// NewRateLimiter builds a RateLimiter from the resolved config. When
// redisClient is nil the limiter falls back to an in-memory store, mirroring
// the teacher's single-instance degradation for the Redis-backed bus.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	eventsRate := limiter.Rate{
		Period: time.Minute,
		Limit:  int64(cfg.Limits.EventsPerMinutePerSource),
	}
	inputsRate := limiter.Rate{
		Period: time.Second,
		Limit:  int64(cfg.Limits.InputsPerSecondPerSession),
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "breakpoint:limiter:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store (redis disabled)")
	}

	return &RateLimiter{
		eventsPerSource:  limiter.New(store, eventsRate),
		inputsPerSession: limiter.New(store, inputsRate),
		store:            store,
		redisClient:      redisClient,
		ipCounts:         make(map[string]int),
		ipLimit:          cfg.Limits.IPConnectionLimit,
	}, nil
}

// EventsMiddleware enforces the per-source ingestion limit on POST
// /api/v1/events. The key is the gin context value "source" when a preceding
// middleware has set one, and the client IP otherwise. BearerAuth sets no
// "source", so with that middleware in front requests are limited per client IP.
func (rl *RateLimiter) EventsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		source, _ := c.Get("source")
		key, _ := source.(string)
		if key == "" {
			key = c.ClientIP()
		}

		ctx := c.Request.Context()
		result, err := rl.eventsPerSource.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.Reset, 10))

		if result.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), "source").Inc()
			c.Header("Retry-After", strconv.FormatInt(result.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": result.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// AllowInput checks and consumes one token from the per-session input
// bucket. Called synchronously from the WS read loop for every PlayerInput
// frame; excess frames are dropped by the caller, never queued.
func (rl *RateLimiter) AllowInput(ctx context.Context, sessionID string) bool {
	result, err := rl.inputsPerSession.Get(ctx, sessionID)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.Error(err))
		return true
	}
	if result.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_input", "session").Inc()
		return false
	}
	metrics.RateLimitRequests.WithLabelValues("ws_input").Inc()
	return true
}

// AcquireIPSlot attempts to increment the connection counter for ip. Returns
// false if the per-IP cap (default 32, §4.F) is already reached. Safe for
// concurrent use; paired with ReleaseIPSlot on disconnect.
func (rl *RateLimiter) AcquireIPSlot(ip string) bool {
	rl.ipMu.Lock()
	defer rl.ipMu.Unlock()

	if rl.ipCounts[ip] >= rl.ipLimit {
		return false
	}
	rl.ipCounts[ip]++
	return true
}

// ReleaseIPSlot decrements the connection counter for ip. Must be called
// synchronously on disconnect (never deferred to a scheduler), per §4.F and
// §9's note on the source's known IP-counter release race.
func (rl *RateLimiter) ReleaseIPSlot(ip string) {
	rl.ipMu.Lock()
	defer rl.ipMu.Unlock()

	if rl.ipCounts[ip] <= 1 {
		delete(rl.ipCounts, ip)
		return
	}
	rl.ipCounts[ip]--
}

// IPConnectionCount reports the current counter for ip, for tests and
// diagnostics.
func (rl *RateLimiter) IPConnectionCount(ip string) int {
	rl.ipMu.Lock()
	defer rl.ipMu.Unlock()
	return rl.ipCounts[ip]
}
