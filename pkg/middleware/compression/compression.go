// Package compression negotiates Brotli or Gzip response encoding.
package compression

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/nimburion/bucketstore/pkg/server/router"
)

const (
	encodingBrotli = "br"
	encodingGzip   = "gzip"
)

// Config controls response compression.
type Config struct {
	Enabled     bool
	GzipLevel   int
	BrotliLevel int
	// MinSize is the smallest body, in bytes, worth compressing.
	MinSize int
	// ContentTypes lists compressible Content-Type prefixes.
	ContentTypes         []string
	ExcludedPathPrefixes []string
}

// DefaultConfig returns the compression defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		GzipLevel:    gzip.DefaultCompression,
		BrotliLevel:  4,
		MinSize:      1024,
		ContentTypes: []string{"application/json", "text/"},
	}
}

// Middleware compresses responses the client accepts, preferring Brotli on a
// quality tie. Bodies below MinSize and non-compressible content types are
// written as they are.
func Middleware(cfg Config) router.MiddlewareFunc {
	def := DefaultConfig()
	if cfg.GzipLevel == 0 {
		cfg.GzipLevel = def.GzipLevel
	}
	if cfg.BrotliLevel <= 0 {
		cfg.BrotliLevel = def.BrotliLevel
	}
	if cfg.MinSize < 0 {
		cfg.MinSize = 0
	}
	if len(cfg.ContentTypes) == 0 {
		cfg.ContentTypes = def.ContentTypes
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			req := c.Request()
			if !cfg.Enabled || req.Method == http.MethodHead || excluded(req.URL.Path, cfg.ExcludedPathPrefixes) {
				return next(c)
			}
			encoding := negotiate(req.Header.Get("Accept-Encoding"))
			if encoding == "" {
				return next(c)
			}

			addVary(c.Response().Header())
			w := &responseWriter{base: c.Response(), encoding: encoding, cfg: cfg}
			c.SetResponse(w)
			err := next(c)
			if closeErr := w.Close(); err == nil {
				err = closeErr
			}
			return err
		}
	}
}

// negotiate picks the accepted encoding with the highest quality.
func negotiate(header string) string {
	if header == "" {
		return ""
	}
	qBr, qGzip := quality(header, encodingBrotli), quality(header, encodingGzip)
	if wildcard := quality(header, "*"); wildcard > 0 {
		if qBr < 0 {
			qBr = wildcard
		}
		if qGzip < 0 {
			qGzip = wildcard
		}
	}
	switch {
	case qBr > 0 && qBr >= qGzip:
		return encodingBrotli
	case qGzip > 0:
		return encodingGzip
	default:
		return ""
	}
}

// quality returns the q value of encoding in an Accept-Encoding header, or
// -1 when it is not listed.
func quality(header, encoding string) float64 {
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(name), encoding) {
			continue
		}
		q := 1.0
		for _, p := range strings.Split(params, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
			if ok && strings.EqualFold(k, "q") {
				if parsed, err := strconv.ParseFloat(v, 64); err == nil {
					q = parsed
				}
			}
		}
		return q
	}
	return -1
}

func excluded(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func addVary(h http.Header) {
	for _, v := range h.Values("Vary") {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), "Accept-Encoding") {
				return
			}
		}
	}
	h.Add("Vary", "Accept-Encoding")
}

// responseWriter buffers the body until MinSize is reached, then decides
// once whether to compress.
type responseWriter struct {
	base     router.ResponseWriter
	encoding string
	cfg      Config

	status  int
	decided bool
	encoder io.WriteCloser
	buf     bytes.Buffer
}

func (w *responseWriter) Header() http.Header { return w.base.Header() }

func (w *responseWriter) WriteHeader(code int) {
	if w.status != 0 {
		return
	}
	w.status = code
	if !bodyAllowed(code) {
		w.decided = true
		w.base.WriteHeader(code)
	}
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	if w.decided {
		if w.encoder != nil {
			return w.encoder.Write(p)
		}
		return w.base.Write(p)
	}
	w.buf.Write(p)
	if w.buf.Len() < w.cfg.MinSize {
		return len(p), nil
	}
	if err := w.decide(); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *responseWriter) decide() error {
	w.decided = true
	h := w.Header()
	if w.buf.Len() >= w.cfg.MinSize && h.Get("Content-Encoding") == "" && compressible(h.Get("Content-Type"), w.cfg.ContentTypes) {
		switch w.encoding {
		case encodingBrotli:
			w.encoder = brotli.NewWriterLevel(w.base, w.cfg.BrotliLevel)
		case encodingGzip:
			gz, err := gzip.NewWriterLevel(w.base, w.cfg.GzipLevel)
			if err != nil {
				return fmt.Errorf("create gzip writer: %w", err)
			}
			w.encoder = gz
		}
		h.Del("Content-Length")
		h.Set("Content-Encoding", w.encoding)
	}
	w.base.WriteHeader(w.statusOrOK())
	if w.buf.Len() == 0 {
		return nil
	}
	var err error
	if w.encoder != nil {
		_, err = w.encoder.Write(w.buf.Bytes())
	} else {
		_, err = w.base.Write(w.buf.Bytes())
	}
	w.buf.Reset()
	return err
}

// Close flushes a buffered body and terminates the compressed stream.
func (w *responseWriter) Close() error {
	if w.status == 0 {
		return nil
	}
	if !w.decided {
		if err := w.decide(); err != nil {
			return err
		}
	}
	if w.encoder != nil {
		return w.encoder.Close()
	}
	return nil
}

func (w *responseWriter) statusOrOK() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *responseWriter) Status() int { return w.statusOrOK() }

func (w *responseWriter) Written() bool { return w.status != 0 || w.base.Written() }

func (w *responseWriter) Flush() {
	if f, ok := w.encoder.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
	if f, ok := w.base.(http.Flusher); ok {
		f.Flush()
	}
}

func bodyAllowed(code int) bool {
	return code >= 200 && code != http.StatusNoContent && code != http.StatusNotModified
}

func compressible(contentType string, prefixes []string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" {
		return true
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(ct, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}
