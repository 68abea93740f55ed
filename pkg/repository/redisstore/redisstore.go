// Package redisstore implements repository sessions on Redis.
//
// Entities of one type live under a key prefix: a hash "<prefix>:rows" maps
// ids to JSON documents, a sorted set "<prefix>:order" keeps insertion order
// and "<prefix>:seq" hands out order scores. Writes run as WATCH/MULTI
// transactions, so a batch is applied completely or not at all.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/bucketstore/pkg/repository"
)

const defaultMaxRetries = 3

// Provider hands out sessions over a go-redis client pool. It implements
// repository.SessionProvider.
type Provider[T any, ID comparable] struct {
	client     *redis.Client
	idOf       func(*T) ID
	rowsKey    string
	orderKey   string
	seqKey     string
	maxRetries int
}

// NewProvider creates a Provider storing entities under prefix.
func NewProvider[T any, ID comparable](client *redis.Client, prefix string, idOf func(*T) ID) (*Provider[T, ID], error) {
	if client == nil {
		return nil, errors.New("redisstore: client is required")
	}
	if prefix == "" {
		return nil, errors.New("redisstore: key prefix is required")
	}
	if idOf == nil {
		return nil, errors.New("redisstore: id function is required")
	}
	return &Provider[T, ID]{
		client:     client,
		idOf:       idOf,
		rowsKey:    prefix + ":rows",
		orderKey:   prefix + ":order",
		seqKey:     prefix + ":seq",
		maxRetries: defaultMaxRetries,
	}, nil
}

// Acquire reserves a dedicated connection for the session's reads. Writes
// take their own connection for the WATCH transaction.
func (p *Provider[T, ID]) Acquire(ctx context.Context) (repository.Session[T, ID], func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	conn := p.client.Conn()
	return &session[T, ID]{provider: p, conn: conn}, func() { _ = conn.Close() }, nil
}

type session[T any, ID comparable] struct {
	provider *Provider[T, ID]
	conn     *redis.Conn
}

func (s *session[T, ID]) Load(ctx context.Context) ([]T, error) {
	ids, err := s.conn.ZRange(ctx, s.provider.orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read entity order: %w", err)
	}
	if len(ids) == 0 {
		return []T{}, nil
	}

	values, err := s.conn.HMGet(ctx, s.provider.rowsKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read entities: %w", err)
	}

	entities := make([]T, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// removed between ZRANGE and HMGET
			continue
		}
		var entity T
		if err := json.Unmarshal([]byte(raw), &entity); err != nil {
			return nil, fmt.Errorf("failed to decode entity %s: %w", ids[i], err)
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

func (s *session[T, ID]) LoadByID(ctx context.Context, id ID) (*T, error) {
	raw, err := s.conn.HGet(ctx, s.provider.rowsKey, fmt.Sprint(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read entity: %w", err)
	}
	var entity T
	if err := json.Unmarshal([]byte(raw), &entity); err != nil {
		return nil, fmt.Errorf("failed to decode entity %v: %w", id, err)
	}
	return &entity, nil
}

func (s *session[T, ID]) Insert(ctx context.Context, entities []*T) error {
	return s.provider.transact(ctx, entities, func(tx *redis.Tx, ids []string, stored []interface{}) (func(redis.Pipeliner) error, error) {
		seen := make(map[string]bool, len(ids))
		for i, id := range ids {
			if stored[i] != nil || seen[id] {
				return nil, fmt.Errorf("insert %s: %w", id, repository.ErrEntityExists)
			}
			seen[id] = true
		}

		docs, err := encodeAll(entities)
		if err != nil {
			return nil, err
		}
		last, err := tx.IncrBy(ctx, s.provider.seqKey, int64(len(ids))).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to reserve order scores: %w", err)
		}
		first := last - int64(len(ids)) + 1

		return func(pipe redis.Pipeliner) error {
			for i, id := range ids {
				pipe.HSet(ctx, s.provider.rowsKey, id, docs[i])
				pipe.ZAdd(ctx, s.provider.orderKey, redis.Z{Score: float64(first + int64(i)), Member: id})
			}
			return nil
		}, nil
	})
}

func (s *session[T, ID]) Save(ctx context.Context, entities []*T) error {
	err := s.provider.transact(ctx, entities, func(_ *redis.Tx, ids []string, stored []interface{}) (func(redis.Pipeliner) error, error) {
		docs := make([]string, len(entities))
		for i, id := range ids {
			raw, ok := stored[i].(string)
			if !ok {
				return nil, fmt.Errorf("update %s: %w", id, repository.ErrEntityNotFound)
			}

			row := *entities[i]
			if next, versioned := repository.NextVersion(&row); versioned {
				var current T
				if err := json.Unmarshal([]byte(raw), &current); err != nil {
					return nil, fmt.Errorf("failed to decode entity %s: %w", id, err)
				}
				if err := repository.CheckVersion(&row, id, any(&current).(repository.Versioned).GetVersion()); err != nil {
					return nil, err
				}
				any(&row).(repository.Versioned).SetVersion(next)
			}

			doc, err := json.Marshal(row)
			if err != nil {
				return nil, fmt.Errorf("failed to encode entity %s: %w", id, err)
			}
			docs[i] = string(doc)
		}

		return func(pipe redis.Pipeliner) error {
			for i, id := range ids {
				pipe.HSet(ctx, s.provider.rowsKey, id, docs[i])
			}
			return nil
		}, nil
	})
	if err != nil {
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
	return s.provider.transact(ctx, entities, func(_ *redis.Tx, ids []string, stored []interface{}) (func(redis.Pipeliner) error, error) {
		for i, id := range ids {
			if stored[i] == nil {
				return nil, fmt.Errorf("delete %s: %w", id, repository.ErrEntityNotFound)
			}
		}
		return func(pipe redis.Pipeliner) error {
			members := make([]interface{}, len(ids))
			for i, id := range ids {
				members[i] = id
			}
			pipe.HDel(ctx, s.provider.rowsKey, ids...)
			pipe.ZRem(ctx, s.provider.orderKey, members...)
			return nil
		}, nil
	})
}

// planFunc inspects the stored documents of a batch under WATCH and returns
// the writes to queue in MULTI.
type planFunc func(tx *redis.Tx, ids []string, stored []interface{}) (func(redis.Pipeliner) error, error)

func (p *Provider[T, ID]) transact(ctx context.Context, entities []*T, plan planFunc) error {
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = fmt.Sprint(p.idOf(e))
	}

	txf := func(tx *redis.Tx) error {
		stored, err := tx.HMGet(ctx, p.rowsKey, ids...).Result()
		if err != nil {
			return fmt.Errorf("failed to read entities: %w", err)
		}
		writes, err := plan(tx, ids, stored)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, writes)
		return err
	}

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		err := p.client.Watch(ctx, txf, p.rowsKey)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redisstore: transaction retries exhausted: %w", repository.ErrConflict)
}

func encodeAll[T any](entities []*T) ([]string, error) {
	docs := make([]string, len(entities))
	for i, e := range entities {
		doc, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to encode entity: %w", err)
		}
		docs[i] = string(doc)
	}
	return docs, nil
}
