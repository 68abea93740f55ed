// Package logger is the structured logging used by every bucketstore
// component, backed by zap.
package logger

import "context"

// Logger writes leveled entries. Arguments after msg are alternating keys and
// values.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a Logger that adds args to every entry.
	With(args ...any) Logger
	// WithContext returns a Logger tagged with the request id in ctx.
	WithContext(ctx context.Context) Logger
}
