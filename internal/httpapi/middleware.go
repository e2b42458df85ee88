package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Martian-dev/inbox-triage/internal/auth"
	"github.com/Martian-dev/inbox-triage/internal/metrics"
)

const userKey = "user"

// Verifier authenticates a request's bearer token.
type Verifier interface {
	UserFromRequest(r *http.Request) (*auth.User, error)
}

// AuthMiddleware rejects requests without a valid bearer token and stores
// the caller under the "user" key.
func AuthMiddleware(v Verifier, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := v.UserFromRequest(c.Request)
		if err != nil {
			log.Debug("rejected request", zap.String("path", c.Request.URL.Path), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "invalid or missing token"})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

// MetricsMiddleware records request latency by route template.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// LoggingMiddleware writes one structured line per request.
func LoggingMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if u, ok := c.Get(userKey); ok {
			fields = append(fields, zap.String("user_id", u.(*auth.User).ID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		log.Info("http request", fields...)
	}
}
