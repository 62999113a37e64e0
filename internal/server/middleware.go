package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// requestLogger logs every request once it completes.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"ip", c.ClientIP(),
		}

		switch {
		case status >= 500:
			zap.S().Errorw("request", fields...)
		case status >= 400:
			zap.S().Warnw("request", fields...)
		default:
			zap.S().Debugw("request", fields...)
		}
	}
}
