package memory

import (
	"fmt"

	"github.com/nimburion/bucketstore/pkg/repository"
)

type opKind int

const (
	opInsert opKind = iota
	opSave
	opDelete
)

// state is the committed content of a store: rows by id plus insertion order.
type state[T any, ID comparable] struct {
	order []ID
	rows  map[ID]T
}

func newState[T any, ID comparable]() *state[T, ID] {
	return &state[T, ID]{rows: make(map[ID]T)}
}

func (s *state[T, ID]) clone() *state[T, ID] {
	out := &state[T, ID]{
		order: make([]ID, len(s.order)),
		rows:  make(map[ID]T, len(s.rows)),
	}
	copy(out.order, s.order)
	for id, row := range s.rows {
		out.rows[id] = row
	}
	return out
}

// list returns copies of every row in insertion order.
func (s *state[T, ID]) list() []T {
	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rows[id])
	}
	return out
}

func (s *state[T, ID]) get(id ID) (*T, bool) {
	row, ok := s.rows[id]
	if !ok {
		return nil, false
	}
	return &row, true
}

// apply mutates s with rows copied from entities. It stops at the first
// conflict, leaving s partially modified; callers apply to a clone.
func (s *state[T, ID]) apply(kind opKind, idOf func(*T) ID, entities []T) error {
	for i := range entities {
		row := entities[i]
		id := idOf(&row)

		switch kind {
		case opInsert:
			if _, exists := s.rows[id]; exists {
				return fmt.Errorf("insert %v: %w", id, repository.ErrEntityExists)
			}
			s.rows[id] = row
			s.order = append(s.order, id)

		case opSave:
			stored, exists := s.rows[id]
			if !exists {
				return fmt.Errorf("update %v: %w", id, repository.ErrEntityNotFound)
			}
			if v, ok := any(&stored).(repository.Versioned); ok {
				if err := repository.CheckVersion(&row, fmt.Sprint(id), v.GetVersion()); err != nil {
					return err
				}
				if next, ok := repository.NextVersion(&row); ok {
					any(&row).(repository.Versioned).SetVersion(next)
				}
			}
			s.rows[id] = row

		case opDelete:
			if _, exists := s.rows[id]; !exists {
				return fmt.Errorf("delete %v: %w", id, repository.ErrEntityNotFound)
			}
			delete(s.rows, id)
			for j, oid := range s.order {
				if oid == id {
					s.order = append(s.order[:j], s.order[j+1:]...)
					break
				}
			}
		}
	}
	return nil
}

func copies[T any](entities []*T) []T {
	out := make([]T, len(entities))
	for i, e := range entities {
		out[i] = *e
	}
	return out
}

// bumpVersions mirrors a successful save onto the caller's entities.
func bumpVersions[T any](entities []*T) {
	for _, e := range entities {
		if next, ok := repository.NextVersion(e); ok {
			any(e).(repository.Versioned).SetVersion(next)
		}
	}
}
