// Package recovery turns handler panics into 500 responses.
package recovery

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/nimburion/bucketstore/pkg/controller"
	"github.com/nimburion/bucketstore/pkg/middleware/requestid"
	"github.com/nimburion/bucketstore/pkg/observability/logger"
	"github.com/nimburion/bucketstore/pkg/server/router"
)

// Recovery creates middleware that recovers from panics in HTTP handlers,
// logs them with the stack and answers 500 unless a response was already
// written. http.ErrAbortHandler is re-raised so the server aborts the
// connection as usual.
func Recovery(log logger.Logger) router.MiddlewareFunc {
	if log == nil {
		log = logger.NewNop()
	}
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if e, ok := r.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(r)
				}

				requestID := requestid.GetRequestID(c.Request().Context())
				log.Error("panic recovered",
					"request_id", requestID,
					"method", c.Request().Method,
					"path", c.Request().URL.Path,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)

				if c.Response().Written() {
					err = nil
					return
				}
				err = c.JSON(http.StatusInternalServerError, controller.ErrorResponse{
					Error:     "internal_server_error",
					Code:      "internal.panic",
					Message:   "an unexpected error occurred",
					RequestID: requestID,
				})
			}()

			return next(c)
		}
	}
}
