// Package router decouples the bucket API and the middleware stack from the
// HTTP engine that serves them.
package router

import "net/http"

// Router registers routes. Middleware added with Use wraps every route
// registered afterwards, outside any route-level middleware.
type Router interface {
	GET(path string, handler HandlerFunc, middleware ...MiddlewareFunc)
	POST(path string, handler HandlerFunc, middleware ...MiddlewareFunc)
	PUT(path string, handler HandlerFunc, middleware ...MiddlewareFunc)
	DELETE(path string, handler HandlerFunc, middleware ...MiddlewareFunc)

	// Group returns a Router that mounts routes under prefix and inherits
	// the middleware registered so far.
	Group(prefix string) Router

	Use(middleware ...MiddlewareFunc)

	http.Handler
}

// HandlerFunc serves one request. A returned error becomes a 500 unless the
// handler already wrote a response.
type HandlerFunc func(Context) error

// MiddlewareFunc wraps a HandlerFunc.
type MiddlewareFunc func(HandlerFunc) HandlerFunc

// Context is the request seen by handlers and middleware.
type Context interface {
	Request() *http.Request
	// SetRequest replaces the request, typically to carry a derived context.
	SetRequest(r *http.Request)

	Response() ResponseWriter
	// SetResponse replaces the writer, typically with a wrapping one.
	SetResponse(w ResponseWriter)

	// Param returns the path parameter name, or "" when absent.
	Param(name string) string
	// Query returns the first value of the query parameter name.
	Query(name string) string

	// Bind decodes a JSON request body into v.
	Bind(v any) error
	JSON(code int, v any) error
	String(code int, s string) error
}

// ResponseWriter records the status it sent.
type ResponseWriter interface {
	http.ResponseWriter

	// Status is the status code written, or 200 before any write.
	Status() int
	Written() bool
}
