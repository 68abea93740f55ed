// Package store opens the storage driver selected by configuration and builds
// the bucket repositories on top of it.
package store

import (
	"context"
	"errors"
)

// Adapter is the minimal lifecycle and health contract for storage adapters.
type Adapter interface {
	HealthCheck(ctx context.Context) error
	Close() error
}

// Group combines adapters; health fails if any member fails and Close closes all.
type Group []Adapter

// HealthCheck checks every member.
func (g Group) HealthCheck(ctx context.Context) error {
	for _, a := range g {
		if err := a.HealthCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every member and joins their errors.
func (g Group) Close() error {
	var errs []error
	for _, a := range g {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
