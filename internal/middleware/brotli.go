package middleware

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// BrotliConfig tunes response compression.
type BrotliConfig struct {
	Quality   int
	MinLength int
}

var DefaultBrotliConfig = BrotliConfig{
	Quality:   brotli.DefaultCompression,
	MinLength: 1024,
}

// bufferedWriter holds the body until the handler returns so the size is
// known before choosing an encoding.
type bufferedWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bufferedWriter) Write(data []byte) (int, error) {
	return w.buf.Write(data)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	return w.buf.WriteString(s)
}

// Brotli compresses large JSON reports, such as paged violation logs.
func Brotli() gin.HandlerFunc {
	return BrotliWithConfig(DefaultBrotliConfig)
}

// BrotliWithConfig returns a Brotli middleware with custom settings.
func BrotliWithConfig(cfg BrotliConfig) gin.HandlerFunc {
	if cfg.Quality < 0 || cfg.Quality > 11 {
		cfg.Quality = brotli.DefaultCompression
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultBrotliConfig.MinLength
	}

	return func(c *gin.Context) {
		if isStreaming(c) || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		orig := c.Writer
		bw := &bufferedWriter{ResponseWriter: orig}
		c.Writer = bw
		c.Next()
		c.Writer = orig

		c.Header("Vary", "Accept-Encoding")
		body := bw.buf.Bytes()
		if len(body) < cfg.MinLength {
			_, _ = orig.Write(body)
			return
		}

		orig.Header().Set("Content-Encoding", "br")
		orig.Header().Del("Content-Length")
		zw := brotli.NewWriterLevel(orig, cfg.Quality)
		if _, err := zw.Write(body); err != nil {
			_ = c.Error(err)
		}
		if err := zw.Close(); err != nil {
			_ = c.Error(err)
		}
	}
}

// isStreaming reports requests that must bypass buffering: SSE monitor
// streams and websocket upgrades.
func isStreaming(c *gin.Context) bool {
	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		return true
	}
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "br") {
			return true
		}
	}
	return false
}
