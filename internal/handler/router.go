package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/civicstreak/internal/identity"
	"github.com/jmerrifield20/civicstreak/internal/metrics"
)

// Registrar mounts a group of routes.
type Registrar interface {
	Register(rg *gin.RouterGroup)
}

// RouterOptions configures the shared middleware chain.
type RouterOptions struct {
	CORSOrigins  []string
	RateLimitRPS int
	MaxBodyBytes int64
	// Ready reports readiness for /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
}

// NewRouter builds the HTTP engine: recovery, CORS, security headers, body
// limit, rate limit, request logging and metrics, then /healthz, /readyz,
// /metrics and every registrar under /api/v1.
func NewRouter(ctx context.Context, opts RouterOptions, logger *zap.Logger, registrars ...Registrar) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())

	if len(opts.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     opts.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", identity.HeaderDevOwner},
			ExposeHeaders:    []string{"Content-Length", "Retry-After", HeaderRequestID},
			AllowCredentials: !containsWildcard(opts.CORSOrigins),
			MaxAge:           12 * time.Hour,
		}))
	}

	router.Use(SecurityHeaders())

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	router.Use(MaxBody(maxBody))

	if opts.RateLimitRPS > 0 {
		router.Use(RateLimiter(ctx, opts.RateLimitRPS, opts.RateLimitRPS*2))
	}

	router.Use(RequestLogger(logger))
	router.Use(metrics.PrometheusMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", func(c *gin.Context) {
		if opts.Ready != nil {
			if err := opts.Ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.GET("/metrics", metrics.Handler())

	v1 := router.Group("/api/v1")
	for _, r := range registrars {
		r.Register(v1)
	}
	return router
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
