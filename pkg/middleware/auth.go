package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminRealm is announced in WWW-Authenticate on rejected admin requests
const AdminRealm = "interpreter-relay-admin"

// GenerateAdminToken returns a random bearer token for the admin server,
// used when none is configured
func GenerateAdminToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// AdminAuthMiddleware guards the admin routes (settings, state, push
// channel) with the admin bearer token. An empty token rejects everything.
func AdminAuthMiddleware(token string, logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("admin-auth")
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			rejectAdmin(c, "admin token required")
			return
		}
		scheme, provided, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			rejectAdmin(c, "admin token must use the Bearer scheme")
			return
		}

		provided = strings.TrimSpace(provided)
		if provided == "" {
			rejectAdmin(c, "admin token required")
			return
		}
		if token == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			logger.Warn("Rejected admin token",
				zap.String("client_ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path),
			)
			rejectAdmin(c, "invalid admin token")
			return
		}

		c.Next()
	}
}

func rejectAdmin(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="`+AdminRealm+`"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

// Logger returns a gin middleware for logging. WebSocket requests are
// logged when the connection ends.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= 500 {
			logger.Error("Request", fields...)
			return
		}
		logger.Info("Request", fields...)
	}
}
