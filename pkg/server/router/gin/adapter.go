// Package gin serves router.Router on a gin engine.
package gin

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"sync"

	ginpkg "github.com/gin-gonic/gin"
	"github.com/nimburion/bucketstore/pkg/server/router"
)

// ErrEmptyBody is returned by Bind when the request carries no body.
var ErrEmptyBody = errors.New("request body is empty")

// Router implements router.Router. Groups share the engine and the lock of
// the Router they were created from.
type Router struct {
	engine *ginpkg.Engine
	group  *ginpkg.RouterGroup
	mu     *sync.RWMutex
	chain  []router.MiddlewareFunc
}

// NewRouter returns a Router on a fresh engine in release mode.
func NewRouter() *Router {
	ginpkg.SetMode(ginpkg.ReleaseMode)
	return &Router{engine: ginpkg.New(), mu: &sync.RWMutex{}}
}

func (r *Router) GET(path string, h router.HandlerFunc, mw ...router.MiddlewareFunc) {
	r.handle(http.MethodGet, path, h, mw)
}

func (r *Router) POST(path string, h router.HandlerFunc, mw ...router.MiddlewareFunc) {
	r.handle(http.MethodPost, path, h, mw)
}

func (r *Router) PUT(path string, h router.HandlerFunc, mw ...router.MiddlewareFunc) {
	r.handle(http.MethodPut, path, h, mw)
}

func (r *Router) DELETE(path string, h router.HandlerFunc, mw ...router.MiddlewareFunc) {
	r.handle(http.MethodDelete, path, h, mw)
}

// Group mounts a sub-router under prefix.
func (r *Router) Group(prefix string) router.Router {
	parent := &r.engine.RouterGroup
	if r.group != nil {
		parent = r.group
	}
	return &Router{
		engine: r.engine,
		group:  parent.Group(prefix),
		mu:     r.mu,
		chain:  r.middleware(),
	}
}

func (r *Router) Use(mw ...router.MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chain = append(r.chain, mw...)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}

func (r *Router) middleware() []router.MiddlewareFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]router.MiddlewareFunc(nil), r.chain...)
}

// handle builds the chain once at registration: Use middleware outermost,
// then route middleware, then h.
func (r *Router) handle(method, path string, h router.HandlerFunc, mw []router.MiddlewareFunc) {
	chain := append(r.middleware(), mw...)
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}

	serve := func(gc *ginpkg.Context) {
		c := &context{gc: gc, w: &responseWriter{ResponseWriter: gc.Writer}}
		if err := h(c); err != nil && !c.w.Written() {
			gc.AbortWithStatus(http.StatusInternalServerError)
		}
	}

	if r.group != nil {
		r.group.Handle(method, path, serve)
		return
	}
	r.engine.Handle(method, path, serve)
}

type context struct {
	gc *ginpkg.Context
	w  router.ResponseWriter
}

func (c *context) Request() *http.Request { return c.gc.Request }

func (c *context) SetRequest(r *http.Request) { c.gc.Request = r }

func (c *context) Response() router.ResponseWriter { return c.w }

func (c *context) SetResponse(w router.ResponseWriter) { c.w = w }

func (c *context) Param(name string) string { return c.gc.Param(name) }

func (c *context) Query(name string) string { return c.gc.Query(name) }

func (c *context) Bind(v any) error {
	body := c.gc.Request.Body
	if body == nil || body == http.NoBody {
		return ErrEmptyBody
	}
	defer body.Close()

	ct := c.gc.GetHeader("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
		return fmt.Errorf("unsupported content type %q", ct)
	}
	return json.NewDecoder(body).Decode(v)
}

func (c *context) JSON(code int, v any) error {
	c.w.Header().Set("Content-Type", "application/json")
	c.w.WriteHeader(code)
	return json.NewEncoder(c.w).Encode(v)
}

func (c *context) String(code int, s string) error {
	c.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	c.w.WriteHeader(code)
	_, err := c.w.Write([]byte(s))
	return err
}

// responseWriter keeps the first status written. The timeout middleware may
// race a handler goroutine on it, hence the lock.
type responseWriter struct {
	ginpkg.ResponseWriter
	mu     sync.Mutex
	status int
}

func (w *responseWriter) Status() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *responseWriter) Written() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status != 0
}

func (w *responseWriter) WriteHeader(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != 0 {
		return
	}
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return w.ResponseWriter.Write(b)
}

// Flush lets the compression middleware stream through the writer.
func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
