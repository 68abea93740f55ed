// Package contract holds the behaviour every router.Router implementation
// must show to serve the bucket API.
package contract

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nimburion/bucketstore/pkg/server/router"
)

// TestRouterContract runs the shared suite against routers built by newRouter.
func TestRouterContract(t *testing.T, newRouter func() router.Router) {
	t.Helper()

	t.Run("methods", func(t *testing.T) {
		r := newRouter()
		echo := func(c router.Context) error { return c.String(http.StatusOK, c.Request().Method) }
		r.GET("/buckets", echo)
		r.POST("/buckets", echo)
		r.PUT("/buckets/:id", echo)
		r.DELETE("/buckets/:id", echo)

		for _, tc := range []struct{ method, path string }{
			{http.MethodGet, "/buckets"},
			{http.MethodPost, "/buckets"},
			{http.MethodPut, "/buckets/b1"},
			{http.MethodDelete, "/buckets/b1"},
		} {
			res := send(r, tc.method, tc.path, nil, "")
			if res.Code != http.StatusOK || res.Body.String() != tc.method {
				t.Fatalf("%s %s: got %d %q", tc.method, tc.path, res.Code, res.Body.String())
			}
		}
		if res := send(r, http.MethodGet, "/items", nil, ""); res.Code != http.StatusNotFound {
			t.Fatalf("unregistered route: got %d", res.Code)
		}
	})

	t.Run("group prefix and params", func(t *testing.T) {
		r := newRouter()
		v1 := r.Group("/api/v1")
		v1.GET("/buckets/:id/items/:itemId", func(c router.Context) error {
			return c.String(http.StatusOK, c.Param("id")+"/"+c.Param("itemId")+c.Param("missing"))
		})
		v1.GET("/buckets", func(c router.Context) error {
			return c.String(http.StatusOK, c.Query("sort"))
		})

		if res := send(r, http.MethodGet, "/api/v1/buckets/b1/items/i9", nil, ""); res.Body.String() != "b1/i9" {
			t.Fatalf("params: got %q", res.Body.String())
		}
		if res := send(r, http.MethodGet, "/api/v1/buckets?sort=name&sort=id", nil, ""); res.Body.String() != "name" {
			t.Fatalf("query: got %q", res.Body.String())
		}
		if res := send(r, http.MethodGet, "/buckets/b1/items/i9", nil, ""); res.Code != http.StatusNotFound {
			t.Fatalf("route outside the group: got %d", res.Code)
		}
	})

	t.Run("middleware order", func(t *testing.T) {
		var order []string
		mark := func(name string) router.MiddlewareFunc {
			return func(next router.HandlerFunc) router.HandlerFunc {
				return func(c router.Context) error {
					order = append(order, name)
					return next(c)
				}
			}
		}

		r := newRouter()
		r.Use(mark("global"))
		v1 := r.Group("/api/v1")
		r.Use(mark("late"))
		v1.GET("/buckets", func(c router.Context) error {
			order = append(order, "handler")
			return c.String(http.StatusOK, "ok")
		}, mark("route"))

		send(r, http.MethodGet, "/api/v1/buckets", nil, "")
		if got := strings.Join(order, ","); got != "global,route,handler" {
			t.Fatalf("order: got %s", got)
		}
	})

	t.Run("errors", func(t *testing.T) {
		r := newRouter()
		r.GET("/fail", func(c router.Context) error { return errors.New("store unavailable") })
		r.GET("/written", func(c router.Context) error {
			_ = c.String(http.StatusConflict, "conflict")
			return errors.New("ignored")
		})
		r.GET("/blocked", func(c router.Context) error {
			t.Fatal("handler ran after middleware failed")
			return nil
		}, func(router.HandlerFunc) router.HandlerFunc {
			return func(router.Context) error { return errors.New("denied") }
		})

		if res := send(r, http.MethodGet, "/fail", nil, ""); res.Code != http.StatusInternalServerError {
			t.Fatalf("unwritten error: got %d", res.Code)
		}
		res := send(r, http.MethodGet, "/written", nil, "")
		if res.Code != http.StatusConflict || res.Body.String() != "conflict" {
			t.Fatalf("written error: got %d %q", res.Code, res.Body.String())
		}
		if res := send(r, http.MethodGet, "/blocked", nil, ""); res.Code != http.StatusInternalServerError {
			t.Fatalf("middleware error: got %d", res.Code)
		}
	})

	t.Run("bind", func(t *testing.T) {
		type bucketInput struct {
			Name string `json:"name"`
			Size int    `json:"size"`
		}
		r := newRouter()
		r.POST("/buckets", func(c router.Context) error {
			var in bucketInput
			if err := c.Bind(&in); err != nil {
				return c.String(http.StatusBadRequest, "malformed")
			}
			return c.JSON(http.StatusCreated, in)
		})

		res := send(r, http.MethodPost, "/buckets", strings.NewReader(`{"name":"b","size":3}`), "application/json; charset=utf-8")
		if res.Code != http.StatusCreated || res.Body.String() != "{\"name\":\"b\",\"size\":3}\n" {
			t.Fatalf("json body: got %d %q", res.Code, res.Body.String())
		}
		if ct := res.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("content type: got %q", ct)
		}
		for name, tc := range map[string]struct {
			body io.Reader
			ct   string
		}{
			"empty":     {nil, "application/json"},
			"truncated": {strings.NewReader(`{"name":`), "application/json"},
			"form":      {strings.NewReader("name=b"), "application/x-www-form-urlencoded"},
		} {
			if res := send(r, http.MethodPost, "/buckets", tc.body, tc.ct); res.Code != http.StatusBadRequest {
				t.Fatalf("%s body: got %d", name, res.Code)
			}
		}
	})

	t.Run("response writer", func(t *testing.T) {
		r := newRouter()
		r.DELETE("/buckets/:id", func(c router.Context) error {
			w := c.Response()
			if w.Written() || w.Status() != http.StatusOK {
				t.Fatalf("before write: written=%v status=%d", w.Written(), w.Status())
			}
			w.WriteHeader(http.StatusNoContent)
			w.WriteHeader(http.StatusInternalServerError)
			if !w.Written() || w.Status() != http.StatusNoContent {
				t.Fatalf("after write: written=%v status=%d", w.Written(), w.Status())
			}
			return nil
		})
		if res := send(r, http.MethodDelete, "/buckets/b1", nil, ""); res.Code != http.StatusNoContent {
			t.Fatalf("got %d", res.Code)
		}
	})

	t.Run("request replacement", func(t *testing.T) {
		r := newRouter()
		r.Use(func(next router.HandlerFunc) router.HandlerFunc {
			return func(c router.Context) error {
				req := c.Request().Clone(c.Request().Context())
				req.Header.Set("X-Request-ID", "rid-1")
				c.SetRequest(req)
				return next(c)
			}
		})
		r.GET("/buckets", func(c router.Context) error {
			return c.String(http.StatusOK, c.Request().Header.Get("X-Request-ID"))
		})
		if res := send(r, http.MethodGet, "/buckets", nil, ""); res.Body.String() != "rid-1" {
			t.Fatalf("got %q", res.Body.String())
		}
	})
}

func send(r http.Handler, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	if body == nil {
		body = http.NoBody
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
