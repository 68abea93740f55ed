// Package requestsize caps the size of request bodies.
package requestsize

import (
	"net/http"

	"github.com/nimburion/bucketstore/pkg/controller"
	"github.com/nimburion/bucketstore/pkg/server/router"
)

// Middleware enforces a maximum request body size in bytes.
// A declared Content-Length over the limit is rejected up front; otherwise
// the body is wrapped so reading past the limit fails with
// *http.MaxBytesError, which controller.MapError answers with 413.
// A non-positive maxBytes disables the middleware.
func Middleware(maxBytes int64) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			req := c.Request()
			if maxBytes <= 0 || req == nil || req.Body == nil {
				return next(c)
			}

			if req.ContentLength > maxBytes {
				return controller.Error(c, &http.MaxBytesError{Limit: maxBytes})
			}

			req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBytes)
			c.SetRequest(req)
			return next(c)
		}
	}
}
