package logging

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nimburion/bucketstore/pkg/middleware/requestid"
	"github.com/nimburion/bucketstore/pkg/middleware/testutil"
	"github.com/nimburion/bucketstore/pkg/server/router"
	ginadapter "github.com/nimburion/bucketstore/pkg/server/router/gin"
)

func newRouter(log *testutil.MockLogger, cfg Config) router.Router {
	r := ginadapter.NewRouter()
	r.Use(requestid.RequestID(), WithConfig(log, cfg))
	r.GET("/api/v1/buckets", func(c router.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"items": []any{}})
	})
	r.GET("/api/v1/buckets/:id", func(c router.Context) error {
		return c.JSON(http.StatusNotFound, map[string]any{"error": "not_found"})
	})
	r.POST("/api/v1/buckets", func(c router.Context) error {
		return errors.New("storage unavailable")
	})
	r.GET("/health", func(c router.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return r
}

func TestLogging_Levels(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		path      string
		wantLevel string
		wantMsg   string
	}{
		{name: "success", method: http.MethodGet, path: "/api/v1/buckets?sort=-size", wantLevel: "info", wantMsg: "request completed"},
		{name: "client error", method: http.MethodGet, path: "/api/v1/buckets/missing", wantLevel: "warn", wantMsg: "request rejected"},
		{name: "handler error", method: http.MethodPost, path: "/api/v1/buckets", wantLevel: "error", wantMsg: "request failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a router with request logging
			log := &testutil.MockLogger{}
			r := newRouter(log, DefaultConfig())

			// When: a request is served
			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			// Then: exactly one entry is written at the expected level
			entries := log.Entries()
			if len(entries) != 1 {
				t.Fatalf("expected 1 entry, got %d: %+v", len(entries), entries)
			}
			e := entries[0]
			if e.Level != tt.wantLevel || e.Msg != tt.wantMsg {
				t.Errorf("entry = %s %q, want %s %q", e.Level, e.Msg, tt.wantLevel, tt.wantMsg)
			}
			if e.Fields[FieldRequestID] == "" || e.Fields[FieldMethod] != tt.method {
				t.Errorf("missing fields: %v", e.Fields)
			}
		})
	}
}

func TestLogging_QueryField(t *testing.T) {
	log := &testutil.MockLogger{}
	r := newRouter(log, DefaultConfig())
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/buckets?sort=-size&limit=2", nil))

	e, ok := log.Find("request completed")
	if !ok {
		t.Fatal("expected a completed entry")
	}
	if e.Fields[FieldQuery] != "sort=-size&limit=2" || e.Fields[FieldStatus] != http.StatusOK {
		t.Errorf("fields = %v", e.Fields)
	}
}

func TestLogging_ExcludedAndDisabled(t *testing.T) {
	log := &testutil.MockLogger{}
	r := newRouter(log, DefaultConfig())
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if n := len(log.Entries()); n != 0 {
		t.Errorf("excluded path logged %d entries", n)
	}

	log = &testutil.MockLogger{}
	r = newRouter(log, Config{Enabled: false})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/buckets", nil))
	if n := len(log.Entries()); n != 0 {
		t.Errorf("disabled middleware logged %d entries", n)
	}
}

func TestLogging_LogStart(t *testing.T) {
	log := &testutil.MockLogger{}
	cfg := DefaultConfig()
	cfg.LogStart = true
	r := newRouter(log, cfg)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/buckets", nil))

	entries := log.Entries()
	if len(entries) != 2 || entries[0].Msg != "request started" || entries[0].Level != "debug" {
		t.Errorf("entries = %+v", entries)
	}
}
