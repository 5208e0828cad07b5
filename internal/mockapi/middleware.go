package mockapi

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/milan604/jsonapi-client/pkg/apperr"
	"github.com/milan604/jsonapi-client/pkg/logger"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// requestID accepts an incoming id or generates one, and echoes it back.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(string(logger.RequestIDKey), reqID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.RequestIDKey, reqID))
		c.Writer.Header().Set(HeaderRequestID, reqID)
		c.Next()
	}
}

// accessLog logs each request after completion.
func accessLog(l logger.LogManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		entry := l.With(
			"log_type", "access",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		switch {
		case status >= 500:
			entry.ErrorFCtx(c.Request.Context(), "%s %s", c.Request.Method, c.Request.URL.Path)
		case status >= 400:
			entry.WarnFCtx(c.Request.Context(), "%s %s", c.Request.Method, c.Request.URL.Path)
		default:
			entry.InfoFCtx(c.Request.Context(), "%s %s", c.Request.Method, c.Request.URL.Path)
		}
	}
}

// recovery turns a handler panic into a 500 with an AppError body.
func recovery(l logger.LogManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				l.With("log_type", "panic", "path", c.Request.URL.Path).
					ErrorF("panic recovered: %v\n%s", r, debug.Stack())
				abortWith(c, apperr.New(apperr.ErrorCodeInternal))
			}
		}()
		c.Next()
	}
}

type gzipWriter struct {
	gin.ResponseWriter
	zw *gzip.Writer
}

func (g *gzipWriter) Write(b []byte) (int, error) { return g.zw.Write(b) }

func (g *gzipWriter) WriteString(s string) (int, error) { return g.zw.Write([]byte(s)) }

// compress gzips responses for clients that accept it.
func compress() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
			c.Next()
			return
		}
		zw := gzip.NewWriter(c.Writer)
		c.Header("Content-Encoding", "gzip")
		c.Header("Vary", "Accept-Encoding")
		c.Writer = &gzipWriter{ResponseWriter: c.Writer, zw: zw}
		defer func() {
			c.Writer.Header().Del("Content-Length")
			_ = zw.Close()
		}()
		c.Next()
	}
}
