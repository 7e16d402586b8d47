package ratelimit

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-payflow/internal/apperr"
	"go.uber.org/zap"
)

// MiddlewareOptions configures Middleware.
type MiddlewareOptions struct {
	Config Config
	// SkipPaths are exact route paths (gin FullPath) or path prefixes ending in "/".
	SkipPaths  []string
	Identifier func(c *gin.Context) string
	Logger     *zap.Logger
}

// ClientIdentifier uses the first X-Forwarded-For entry, else "unknown".
func ClientIdentifier(c *gin.Context) string {
	fwd := c.GetHeader("X-Forwarded-For")
	if fwd == "" {
		return "unknown"
	}
	first := strings.TrimSpace(strings.Split(fwd, ",")[0])
	if first == "" {
		return "unknown"
	}
	return first
}

// Middleware enforces a policy and reports it through the X-RateLimit-* headers.
// Errors are attached to the context for the error middleware to render.
func Middleware(l *Limiter, opts MiddlewareOptions) gin.HandlerFunc {
	identify := opts.Identifier
	if identify == nil {
		identify = ClientIdentifier
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		if skip(c, opts.SkipPaths) {
			c.Next()
			return
		}

		id := identify(c)
		info, err := l.CheckAndIncrement(c.Request.Context(), id, opts.Config)
		if err != nil {
			logger.Error("rate limit check failed", zap.String("identifier", id), zap.Error(err))
			_ = c.Error(apperr.Wrap(apperr.Unavailable, "Service temporarily unavailable", err))
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(opts.Config.Max, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(info.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.UnixMilli(), 10))

		if info.IsLimited {
			retryAfter := apperr.RetryAfterSeconds(info.ResetAt, l.nowFunc())
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			logger.Warn("rate limit exceeded",
				zap.String("identifier", id),
				zap.String("policy", opts.Config.Name),
			)
			_ = c.Error(apperr.NewRateLimited(info.Remaining, info.ResetAt))
			c.Abort()
			return
		}
		c.Next()
	}
}

func skip(c *gin.Context, paths []string) bool {
	full := c.FullPath()
	reqPath := c.Request.URL.Path
	for _, p := range paths {
		if p == full || p == reqPath {
			return true
		}
		if strings.HasSuffix(p, "/") && strings.HasPrefix(reqPath, p) {
			return true
		}
	}
	return false
}
