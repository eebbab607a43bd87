package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// requestLogger logs one structured line per request, at a level chosen by
// the response status, mirroring the rest of the module's log/slog usage.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}

		switch {
		case status >= 500:
			slog.Error("api request", attrs...)
		case status >= 400:
			slog.Warn("api request", attrs...)
		default:
			slog.Info("api request", attrs...)
		}
	}
}

// recovery turns a panicking handler into a 500 instead of tearing down the
// process, logging the recovered value.
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("api: recovered from panic", "panic", r, "path", c.Request.URL.Path)
				c.AbortWithStatusJSON(500, errorResponse{Error: "internal error"})
			}
		}()
		c.Next()
	}
}
