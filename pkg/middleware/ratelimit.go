package middleware

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sirosfoundation/go-interpreter-relay/pkg/config"
)

// AuthRateLimiter manages rate limiting for the password login.
// Uses a token bucket per client with lockout after exceeding limits
type AuthRateLimiter struct {
	config config.AuthRateLimitConfig
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*authLimiter

	cleanupInterval time.Duration
	lastCleanup     time.Time
}

// authLimiter tracks rate limiting state for a single client
type authLimiter struct {
	limiter    *rate.Limiter
	lastSeen   time.Time
	lockoutEnd time.Time
}

// NewAuthRateLimiter creates a new rate limiter for auth endpoints
func NewAuthRateLimiter(cfg config.AuthRateLimitConfig, logger *zap.Logger) *AuthRateLimiter {
	cfg.SetDefaults()
	return &AuthRateLimiter{
		config:          cfg,
		logger:          logger.Named("auth-ratelimit"),
		now:             time.Now,
		limiters:        make(map[string]*authLimiter),
		cleanupInterval: 10 * time.Minute,
		lastCleanup:     time.Now(),
	}
}

// getLimiter returns the rate limiter for an identifier, creating if needed.
// Must hold mu.
func (r *AuthRateLimiter) getLimiter(identifier string) *authLimiter {
	now := r.now()

	// Cleanup old limiters periodically
	if now.Sub(r.lastCleanup) > r.cleanupInterval {
		r.cleanup(now)
	}

	limiter, exists := r.limiters[identifier]
	if exists {
		limiter.lastSeen = now
		return limiter
	}

	// Rate: MaxAttempts per WindowSeconds
	rateLimit := rate.Limit(float64(r.config.MaxAttempts) / float64(r.config.WindowSeconds))
	burst := int(math.Ceil(float64(r.config.MaxAttempts) / 2.0))
	if burst < 1 {
		burst = 1
	}

	limiter = &authLimiter{
		limiter:  rate.NewLimiter(rateLimit, burst),
		lastSeen: now,
	}
	r.limiters[identifier] = limiter
	return limiter
}

// cleanup removes limiters that haven't been used. Must hold mu.
func (r *AuthRateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-30 * time.Minute)
	for key, limiter := range r.limiters {
		if limiter.lastSeen.Before(cutoff) && now.After(limiter.lockoutEnd) {
			delete(r.limiters, key)
		}
	}
	r.lastCleanup = now
}

// Allow checks if a request is allowed for the given identifier
// Returns true if allowed, false if rate limited
func (r *AuthRateLimiter) Allow(identifier string) bool {
	if !r.config.Enabled {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	limiter := r.getLimiter(identifier)
	now := r.now()

	if now.Before(limiter.lockoutEnd) {
		return false
	}

	if !limiter.limiter.AllowN(now, 1) {
		lockout := time.Duration(r.config.LockoutSeconds) * time.Second
		limiter.lockoutEnd = now.Add(lockout)

		r.logger.Warn("Auth rate limit exceeded, applying lockout",
			zap.String("identifier", identifier),
			zap.Duration("lockout_duration", lockout),
		)
		return false
	}

	return true
}

// RecordFailure records a failed authentication attempt
// This is used for more aggressive rate limiting on repeated failures
func (r *AuthRateLimiter) RecordFailure(identifier string) {
	if !r.config.Enabled {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Consume an extra token on failure (making failures more costly)
	r.getLimiter(identifier).limiter.AllowN(r.now(), 1)
}

// AuthRateLimitMiddleware returns a Gin middleware that rate limits auth
// endpoints per client address
func AuthRateLimitMiddleware(rl *AuthRateLimiter) gin.HandlerFunc {
	return AuthRateLimitMiddlewareWithIdentifier(rl, func(c *gin.Context) string {
		return c.ClientIP()
	})
}

// AuthRateLimitMiddlewareWithIdentifier returns a middleware that uses a custom identifier extractor
// This allows callers to define how to identify rate limit subjects
func AuthRateLimitMiddlewareWithIdentifier(rl *AuthRateLimiter, extractID func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.config.Enabled {
			c.Next()
			return
		}

		identifier := extractID(c)
		if identifier == "" {
			identifier = "_anonymous"
		}

		if !rl.Allow(identifier) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many login attempts. Please try again later.",
			})
			c.Abort()
			return
		}

		c.Next()

		if c.Writer.Status() == http.StatusUnauthorized {
			rl.RecordFailure(identifier)
		}
	}
}
