package timeout

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nimburion/bucketstore/pkg/server/router"
	ginadapter "github.com/nimburion/bucketstore/pkg/server/router/gin"
)

func slowRouter(cfg Config) router.Router {
	r := ginadapter.NewRouter()
	r.Use(Middleware(cfg))
	handler := func(c router.Context) error {
		select {
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		case <-time.After(50 * time.Millisecond):
			return c.String(http.StatusOK, "ok")
		}
	}
	r.GET("/api/v1/buckets", handler)
	r.GET("/health", handler)
	return r
}

func status(r router.Router, path string) int {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code
}

func TestMiddleware_DeadlineExceededReturns504(t *testing.T) {
	r := slowRouter(Config{Enabled: true, Default: 5 * time.Millisecond})
	if got := status(r, "/api/v1/buckets"); got != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want %d", got, http.StatusGatewayTimeout)
	}
}

func TestMiddleware_ExcludedPathBypassesTimeout(t *testing.T) {
	r := slowRouter(Config{Enabled: true, Default: 5 * time.Millisecond, ExcludedPathPrefixes: []string{"/health"}})
	if got := status(r, "/health"); got != http.StatusOK {
		t.Fatalf("status = %d, want %d", got, http.StatusOK)
	}
}

func TestMiddleware_Disabled(t *testing.T) {
	r := slowRouter(Config{Enabled: false, Default: 5 * time.Millisecond})
	if got := status(r, "/api/v1/buckets"); got != http.StatusOK {
		t.Fatalf("status = %d, want %d", got, http.StatusOK)
	}
}

func TestMiddleware_HandlerResponseWins(t *testing.T) {
	r := ginadapter.NewRouter()
	r.Use(Middleware(Config{Enabled: true, Default: 5 * time.Millisecond}))
	r.GET("/api/v1/buckets", func(c router.Context) error {
		<-c.Request().Context().Done()
		return c.JSON(499, map[string]string{"error": "cancelled"})
	})
	if got := status(r, "/api/v1/buckets"); got != 499 {
		t.Fatalf("status = %d, want the handler's 499", got)
	}
}
