package repository

import (
	"errors"
	"fmt"

	"github.com/nimburion/bucketstore/pkg/query"
)

var (
	// ErrConflict is matched by every error caused by a concurrent or
	// duplicate write.
	ErrConflict = errors.New("conflict")

	// ErrEntityNotFound is returned by mutations that target a missing entity.
	ErrEntityNotFound = fmt.Errorf("entity %w", query.ErrNotFound)

	// ErrEntityExists is returned when inserting an entity whose id is taken.
	ErrEntityExists = fmt.Errorf("entity already exists: %w", ErrConflict)

	// ErrNotTransactional is returned when a scoped repository is requested
	// over a backend without transactions.
	ErrNotTransactional = errors.New("storage backend does not support transactions")

	// ErrUnavailable is returned without touching storage while the backend
	// is considered down.
	ErrUnavailable = errors.New("storage unavailable")
)

const (
	paramEntity   = "entity"
	paramEntities = "entities"
	paramID       = "id"
)

func validateEntity[T any](entity *T) error {
	if entity == nil {
		return query.NewArgumentError(paramEntity, "must not be nil")
	}
	return nil
}

// validateBatch checks the whole batch before any storage mutation.
func validateBatch[T any](entities []*T) error {
	if entities == nil {
		return query.NewArgumentError(paramEntities, "must not be nil")
	}
	for i, e := range entities {
		if e == nil {
			return query.NewElementError(paramEntities, i, "is nil")
		}
	}
	return nil
}

func validateID[ID comparable](id ID) error {
	var zero ID
	if id == zero {
		return query.NewArgumentError(paramID, "must not be empty")
	}
	return nil
}
