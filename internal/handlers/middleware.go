package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-payflow/internal/apperr"
	"go.uber.org/zap"
)

// ErrorMiddleware renders the last error attached by a handler or middleware.
func ErrorMiddleware(logger *zap.Logger, production bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		status, body := apperr.Render(err, production, time.Now())

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		}
		if status >= 500 {
			logger.Error("request failed", fields...)
		} else {
			logger.Info("request rejected", fields...)
		}

		if !c.Writer.Written() {
			c.JSON(status, body)
		}
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
