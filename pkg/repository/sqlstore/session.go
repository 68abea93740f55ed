package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/nimburion/bucketstore/pkg/repository"
)

type session[T any, ID comparable] struct {
	table *Table[T, ID]
	exec  SQLExecutor
	// begin opens a transaction for multi-row writes; nil when exec already is one.
	begin func(ctx context.Context) (*sql.Tx, error)
}

func (s *session[T, ID]) Load(ctx context.Context) ([]T, error) {
	rows, err := s.exec.QueryContext(ctx, s.table.selectAll())
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	entities := []T{}
	for rows.Next() {
		entity, err := s.table.Mapper.FromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, *entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return entities, nil
}

func (s *session[T, ID]) LoadByID(ctx context.Context, id ID) (*T, error) {
	rows, err := s.exec.QueryContext(ctx, s.table.selectByID(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	entity, err := s.table.Mapper.FromRow(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	return entity, nil
}

func (s *session[T, ID]) Insert(ctx context.Context, entities []*T) error {
	return s.batch(ctx, entities, s.insert)
}

func (s *session[T, ID]) Save(ctx context.Context, entities []*T) error {
	if err := s.batch(ctx, entities, s.update); err != nil {
		return err
	}
	for _, e := range entities {
		if next, ok := repository.NextVersion(e); ok {
			any(e).(repository.Versioned).SetVersion(next)
		}
	}
	return nil
}

func (s *session[T, ID]) Delete(ctx context.Context, entities []*T) error {
	return s.batch(ctx, entities, s.delete)
}

// batch runs fn for every entity, inside a transaction when the session is
// not already one and more than one row is written.
func (s *session[T, ID]) batch(ctx context.Context, entities []*T, fn func(context.Context, SQLExecutor, *T) error) error {
	if s.begin == nil || len(entities) == 1 {
		for _, e := range entities {
			if err := fn(ctx, s.exec, e); err != nil {
				return err
			}
		}
		return nil
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, e := range entities {
		if err := fn(ctx, tx, e); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("failed to rollback transaction: %w (original error: %v)", rbErr, err)
			}
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *session[T, ID]) insert(ctx context.Context, exec SQLExecutor, entity *T) error {
	columns, values, err := s.table.Mapper.ToRow(entity)
	if err != nil {
		return fmt.Errorf("failed to map entity to row: %w", err)
	}

	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = s.table.Dialect.Placeholder(i + 1)
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		s.table.Name,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	)

	if _, err := exec.ExecContext(ctx, query, values...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert %v: %w", s.table.Mapper.GetID(entity), repository.ErrEntityExists)
		}
		return fmt.Errorf("failed to create entity: %w", err)
	}
	return nil
}

// update writes entity. Versioned entities are matched on their current
// version and stored with the next one.
func (s *session[T, ID]) update(ctx context.Context, exec SQLExecutor, entity *T) error {
	id := s.table.Mapper.GetID(entity)
	columns, values, err := s.table.Mapper.ToRow(entity)
	if err != nil {
		return fmt.Errorf("failed to map entity to row: %w", err)
	}

	next, versioned := repository.NextVersion(entity)
	versionColumn := s.table.versionColumn()

	setClauses := make([]string, len(columns))
	for i, col := range columns {
		setClauses[i] = fmt.Sprintf("%s = %s", col, s.table.Dialect.Placeholder(i+1))
		if versioned && col == versionColumn {
			values[i] = next
		}
	}

	where := fmt.Sprintf("%s = %s", s.table.IDColumn, s.table.Dialect.Placeholder(len(values)+1))
	values = append(values, id)
	if versioned {
		where += fmt.Sprintf(" AND %s = %s", versionColumn, s.table.Dialect.Placeholder(len(values)+1))
		values = append(values, next-1)
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", s.table.Name, strings.Join(setClauses, ", "), where)
	result, err := exec.ExecContext(ctx, query, values...)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}
	if !versioned {
		return fmt.Errorf("update %v: %w", id, repository.ErrEntityNotFound)
	}

	var actual int64
	checkQuery := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		versionColumn, s.table.Name, s.table.IDColumn, s.table.Dialect.Placeholder(1))
	err = exec.QueryRowContext(ctx, checkQuery, id).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update %v: %w", id, repository.ErrEntityNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check entity version: %w", err)
	}
	return repository.NewOptimisticLockError(fmt.Sprint(id), next-1, actual)
}

func (s *session[T, ID]) delete(ctx context.Context, exec SQLExecutor, entity *T) error {
	id := s.table.Mapper.GetID(entity)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", s.table.Name, s.table.IDColumn, s.table.Dialect.Placeholder(1))

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("delete %v: %w", id, repository.ErrEntityNotFound)
	}
	return nil
}
