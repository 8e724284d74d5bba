package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jmerrifield20/civicstreak/internal/identity"
)

const (
	limiterSweepEvery = 5 * time.Minute
	limiterIdleAfter  = 10 * time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// buckets holds one token bucket per key. Idle buckets are swept until ctx is
// done.
type buckets struct {
	mu    sync.Mutex
	rps   rate.Limit
	burst int
	byKey map[string]*bucket
}

func newBuckets(ctx context.Context, rps, burst int) *buckets {
	b := &buckets{rps: rate.Limit(rps), burst: burst, byKey: make(map[string]*bucket)}
	go b.sweep(ctx)
	return b
}

func (b *buckets) sweep(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		b.mu.Lock()
		for k, l := range b.byKey {
			if time.Since(l.lastSeen) > limiterIdleAfter {
				delete(b.byKey, k)
			}
		}
		b.mu.Unlock()
	}
}

func (b *buckets) allow(key string) bool {
	b.mu.Lock()
	l, ok := b.byKey[key]
	if !ok {
		l = &bucket{limiter: rate.NewLimiter(b.rps, b.burst)}
		b.byKey[key] = l
	}
	l.lastSeen = time.Now()
	b.mu.Unlock()
	return l.limiter.Allow()
}

// limitBy rejects a request with 429 once the bucket for key(c) is empty.
// Requests with an empty key pass.
func limitBy(ctx context.Context, rps, burst int, key func(*gin.Context) string) gin.HandlerFunc {
	b := newBuckets(ctx, rps, burst)
	return func(c *gin.Context) {
		k := key(c)
		if k == "" || b.allow(k) {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		abortJSON(c, http.StatusTooManyRequests, ReasonRateLimited, "rate limit exceeded")
	}
}

// RateLimiter returns a Gin middleware that enforces per-IP token-bucket
// rate limiting. rps is the steady-state requests per second; burst is the
// maximum burst size.
func RateLimiter(ctx context.Context, rps, burst int) gin.HandlerFunc {
	return limitBy(ctx, rps, burst, func(c *gin.Context) string { return c.ClientIP() })
}

// OwnerRateLimiter limits mutating requests per authenticated owner, so one
// owner cannot hammer the record store from many addresses. It must run after
// identity.RequireOwner.
//
// The one-engagement-per-window rule is enforced by the ledger itself; this
// only bounds request volume.
func OwnerRateLimiter(ctx context.Context, rps, burst int) gin.HandlerFunc {
	return limitBy(ctx, rps, burst, func(c *gin.Context) string {
		owner, ok := identity.OwnerFromCtx(c)
		if !ok {
			return ""
		}
		return owner.String()
	})
}
