// Package requestid correlates log lines, spans and error responses of one request.
package requestid

import (
	"context"

	"github.com/google/uuid"
	"github.com/nimburion/bucketstore/pkg/middleware"
	"github.com/nimburion/bucketstore/pkg/server/router"
)

// RequestIDHeader is the HTTP header name for request ID.
const RequestIDHeader = "X-Request-ID"

// maxLength bounds client supplied ids.
const maxLength = 128

// RequestID creates middleware that reuses the X-Request-ID of the caller or
// generates a UUID, then exposes it on the response and in the request context.
func RequestID() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			requestID := c.Request().Header.Get(RequestIDHeader)
			if !valid(requestID) {
				requestID = uuid.NewString()
			}

			c.Response().Header().Set(RequestIDHeader, requestID)
			c.SetRequest(c.Request().WithContext(middleware.WithRequestID(c.Request().Context(), requestID)))

			return next(c)
		}
	}
}

// valid accepts non-empty printable ASCII ids of bounded length.
func valid(id string) bool {
	if id == "" || len(id) > maxLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// GetRequestID returns the request ID carried by ctx, or "".
func GetRequestID(ctx context.Context) string {
	return middleware.RequestIDFrom(ctx)
}
