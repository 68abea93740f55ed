package repository

import "fmt"

// Versioned interface for entities that support optimistic locking
type Versioned interface {
	GetVersion() int64
	SetVersion(version int64)
}

// OptimisticLockError is returned when an optimistic lock conflict is detected
type OptimisticLockError struct {
	EntityID string
	Expected int64
	Actual   int64
}

// Error returns the error message.
func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("optimistic lock failed for entity %s: expected version %d, got %d",
		e.EntityID, e.Expected, e.Actual)
}

// Is reports whether target is ErrConflict.
func (e *OptimisticLockError) Is(target error) bool {
	return target == ErrConflict
}

// NewOptimisticLockError creates a new OptimisticLockError
func NewOptimisticLockError(entityID string, expected, actual int64) *OptimisticLockError {
	return &OptimisticLockError{
		EntityID: entityID,
		Expected: expected,
		Actual:   actual,
	}
}

// CheckVersion compares the version carried by entity with the stored one.
// Entities that do not implement Versioned always pass.
func CheckVersion(entity any, entityID string, stored int64) error {
	v, ok := entity.(Versioned)
	if !ok {
		return nil
	}
	if v.GetVersion() != stored {
		return NewOptimisticLockError(entityID, v.GetVersion(), stored)
	}
	return nil
}

// NextVersion returns the version an update of entity must store, and
// whether entity is versioned at all.
func NextVersion(entity any) (int64, bool) {
	v, ok := entity.(Versioned)
	if !ok {
		return 0, false
	}
	return v.GetVersion() + 1, true
}
