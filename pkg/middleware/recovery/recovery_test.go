package recovery

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nimburion/bucketstore/pkg/controller"
	"github.com/nimburion/bucketstore/pkg/middleware/requestid"
	"github.com/nimburion/bucketstore/pkg/middleware/testutil"
	"github.com/nimburion/bucketstore/pkg/server/router"
	ginadapter "github.com/nimburion/bucketstore/pkg/server/router/gin"
)

func TestRecovery_CatchesPanic(t *testing.T) {
	// Given: a handler that panics
	log := &testutil.MockLogger{}
	r := ginadapter.NewRouter()
	r.Use(requestid.RequestID(), Recovery(log))
	r.GET("/api/v1/buckets/:id", func(c router.Context) error {
		panic("nil bucket")
	})

	// When: it is called
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/buckets/b1", nil))

	// Then: the client gets a 500 error response
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp controller.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "internal_server_error" || resp.RequestID == "" {
		t.Errorf("unexpected response %+v", resp)
	}

	// And: the panic is logged with its stack
	entry, ok := log.Find("panic recovered")
	if !ok {
		t.Fatal("expected panic to be logged")
	}
	if entry.Level != "error" || entry.Fields["panic"] != "nil bucket" {
		t.Errorf("entry = %+v", entry)
	}
	if stack, _ := entry.Fields["stack"].(string); !strings.Contains(stack, "goroutine") {
		t.Error("expected stack trace in log")
	}
}

func TestRecovery_PanicAfterWrite(t *testing.T) {
	log := &testutil.MockLogger{}
	r := ginadapter.NewRouter()
	r.Use(Recovery(log))
	r.GET("/partial", func(c router.Context) error {
		_ = c.String(http.StatusAccepted, "partial")
		panic(errors.New("late failure"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/partial", nil))

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want the already written %d", rec.Code, http.StatusAccepted)
	}
	if _, ok := log.Find("panic recovered"); !ok {
		t.Error("expected panic to be logged")
	}
}

func TestRecovery_NoPanic(t *testing.T) {
	log := &testutil.MockLogger{}
	r := ginadapter.NewRouter()
	r.Use(Recovery(log))
	r.GET("/ok", func(c router.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if rec.Code != http.StatusOK || len(log.Entries()) != 0 {
		t.Errorf("status = %d, entries = %v", rec.Code, log.Entries())
	}
}

func TestRecovery_RepanicsAbortHandler(t *testing.T) {
	handler := Recovery(nil)(func(c router.Context) error {
		panic(http.ErrAbortHandler)
	})

	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", r)
		}
	}()
	_ = handler(nil)
}
