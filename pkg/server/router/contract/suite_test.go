package contract

import (
	"net/http"
	"testing"

	"github.com/nimburion/bucketstore/pkg/server/router"
	ginadapter "github.com/nimburion/bucketstore/pkg/server/router/gin"
)

func TestSend_SetsContentType(t *testing.T) {
	r := ginadapter.NewRouter()
	r.POST("/buckets", func(c router.Context) error {
		return c.String(http.StatusOK, c.Request().Header.Get("Content-Type"))
	})

	res := send(r, http.MethodPost, "/buckets", nil, "application/json")
	if got := res.Body.String(); res.Code != http.StatusOK || got != "application/json" {
		t.Fatalf("got %d %q", res.Code, got)
	}
}
