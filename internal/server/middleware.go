package server

import (
	"fmt"
	"io"
	"time"

	"github.com/fmueller/holaamigo/internal/apperr"
	"github.com/fmueller/holaamigo/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"

var corsHeaders = [][2]string{
	{"Access-Control-Allow-Origin", "*"},
	{"Access-Control-Allow-Methods", "GET, POST, HEAD, PUT, DELETE"},
	{"Access-Control-Allow-Headers", "Cache-Control, Pragma, Origin, Authorization, Location, Content-Type, X-Requested-With, Extra"},
	{"Access-Control-Max-Age", "36000"},
}

// cors sets the fixed header set before any handler writes, so error replies
// carry it too.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, h := range corsHeaders {
			c.Header(h[0], h[1])
		}
		c.Next()
	}
}

func requestLogger(l *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)
		c.Set("request_id", reqID)

		c.Next()

		lat := time.Since(start)
		status := c.Writer.Status()
		m.ObserveRequest(c.Request.Method, status, lat)

		fields := []zap.Field{
			zap.String("request_id", reqID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", lat),
			zap.String("ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			l.Error("request", fields...)
		case status >= 400:
			l.Warn("request", fields...)
		default:
			l.Info("request", fields...)
		}
	}
}

// recovery turns a handler panic into a 500 and keeps the server running.
func recovery(l *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		l.Error("handler panicked", zap.Any("panic", recovered), zap.Stack("stack"))
		writeError(c, apperr.E(apperr.CodeInternal, "", "internal error", fmt.Errorf("panic: %v", recovered)))
	})
}
