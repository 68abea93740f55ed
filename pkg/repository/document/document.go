// Package document implements repository sessions on MongoDB.
//
// Every entity is stored in an envelope document carrying its id, an
// insertion sequence used as the deterministic load order, and its version
// for optimistic locking.
package document

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nimburion/bucketstore/pkg/repository"
)

const countersCollection = "counters"

type envelope[T any] struct {
	ID      string `bson:"_id"`
	Seq     int64  `bson:"seq"`
	Version int64  `bson:"version"`
	Entity  T      `bson:"entity"`
}

// Provider hands out sessions over a MongoDB collection. It implements
// repository.SessionProvider.
type Provider[T any, ID comparable] struct {
	coll     *mongo.Collection
	counters *mongo.Collection
	idOf     func(*T) ID
}

// NewProvider creates a Provider for coll.
func NewProvider[T any, ID comparable](coll *mongo.Collection, idOf func(*T) ID) (*Provider[T, ID], error) {
	if coll == nil {
		return nil, errors.New("document: collection is required")
	}
	if idOf == nil {
		return nil, errors.New("document: id function is required")
	}
	return &Provider[T, ID]{
		coll:     coll,
		counters: coll.Database().Collection(countersCollection),
		idOf:     idOf,
	}, nil
}

// EnsureIndexes creates the index backing the load order.
func (p *Provider[T, ID]) EnsureIndexes(ctx context.Context) error {
	_, err := p.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "seq", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create sequence index on %s: %w", p.coll.Name(), err)
	}
	return nil
}

// Acquire starts a client session for causally consistent reads and writes.
func (p *Provider[T, ID]) Acquire(ctx context.Context) (repository.Session[T, ID], func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	sess, err := p.coll.Database().Client().StartSession(options.Session().SetCausalConsistency(true))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start mongodb session: %w", err)
	}
	release := func() { sess.EndSession(context.Background()) }
	return &session[T, ID]{provider: p, sess: sess}, release, nil
}

type session[T any, ID comparable] struct {
	provider *Provider[T, ID]
	sess     mongo.Session
}

func (s *session[T, ID]) ctx(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, s.sess)
}

func (s *session[T, ID]) Load(ctx context.Context) ([]T, error) {
	ctx = s.ctx(ctx)
	cursor, err := s.provider.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	var docs []envelope[T]
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode entities: %w", err)
	}

	entities := make([]T, len(docs))
	for i, d := range docs {
		entities[i] = d.Entity
	}
	return entities, nil
}

func (s *session[T, ID]) LoadByID(ctx context.Context, id ID) (*T, error) {
	var doc envelope[T]
	err := s.provider.coll.FindOne(s.ctx(ctx), bson.M{"_id": fmt.Sprint(id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query entity: %w", err)
	}
	return &doc.Entity, nil
}

// Insert checks the batch for taken ids, then inserts it in order. A
// duplicate raced in between rolls the batch's own inserts back.
func (s *session[T, ID]) Insert(ctx context.Context, entities []*T) error {
	ctx = s.ctx(ctx)
	ids := s.ids(entities)

	existing, err := s.stored(ctx, ids)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, taken := existing[id]; taken || seen[id] {
			return fmt.Errorf("insert %s: %w", id, repository.ErrEntityExists)
		}
		seen[id] = true
	}

	first, err := s.reserve(ctx, len(ids))
	if err != nil {
		return err
	}
	docs := make([]interface{}, len(entities))
	for i, e := range entities {
		doc := envelope[T]{ID: ids[i], Seq: first + int64(i), Entity: *e}
		if v, ok := any(e).(repository.Versioned); ok {
			doc.Version = v.GetVersion()
		}
		docs[i] = doc
	}

	if _, err := s.provider.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			s.compensate(ctx, ids, first)
			return fmt.Errorf("insert: %w", repository.ErrEntityExists)
		}
		return fmt.Errorf("failed to insert entities: %w", err)
	}
	return nil
}

func (s *session[T, ID]) Save(ctx context.Context, entities []*T) error {
	ctx = s.ctx(ctx)
	ids := s.ids(entities)

	existing, err := s.stored(ctx, ids)
	if err != nil {
		return err
	}
	for i, id := range ids {
		version, ok := existing[id]
		if !ok {
			return fmt.Errorf("update %s: %w", id, repository.ErrEntityNotFound)
		}
		if err := repository.CheckVersion(entities[i], id, version); err != nil {
			return err
		}
	}

	for i, e := range entities {
		filter := bson.M{"_id": ids[i]}
		row := *e
		version := existing[ids[i]]
		if next, ok := repository.NextVersion(&row); ok {
			filter["version"] = version
			any(&row).(repository.Versioned).SetVersion(next)
			version = next
		}

		result, err := s.provider.coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"entity": row, "version": version}})
		if err != nil {
			return fmt.Errorf("failed to update entity %s: %w", ids[i], err)
		}
		if result.MatchedCount == 0 {
			return repository.NewOptimisticLockError(ids[i], existing[ids[i]], -1)
		}
	}

	for _, e := range entities {
		if next, ok := repository.NextVersion(e); ok {
			any(e).(repository.Versioned).SetVersion(next)
		}
	}
	return nil
}

func (s *session[T, ID]) Delete(ctx context.Context, entities []*T) error {
	ctx = s.ctx(ctx)
	ids := s.ids(entities)

	existing, err := s.stored(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := existing[id]; !ok {
			return fmt.Errorf("delete %s: %w", id, repository.ErrEntityNotFound)
		}
	}

	if _, err := s.provider.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return fmt.Errorf("failed to delete entities: %w", err)
	}
	return nil
}

func (s *session[T, ID]) ids(entities []*T) []string {
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = fmt.Sprint(s.provider.idOf(e))
	}
	return ids
}

// stored returns the current version of every id in ids that exists.
func (s *session[T, ID]) stored(ctx context.Context, ids []string) (map[string]int64, error) {
	cursor, err := s.provider.coll.Find(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"_id": 1, "version": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	var heads []struct {
		ID      string `bson:"_id"`
		Version int64  `bson:"version"`
	}
	if err := cursor.All(ctx, &heads); err != nil {
		return nil, fmt.Errorf("failed to decode entities: %w", err)
	}

	out := make(map[string]int64, len(heads))
	for _, h := range heads {
		out[h.ID] = h.Version
	}
	return out, nil
}

// reserve allocates n consecutive sequence numbers and returns the first.
func (s *session[T, ID]) reserve(ctx context.Context, n int) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.provider.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": s.provider.coll.Name()},
		bson.M{"$inc": bson.M{"seq": int64(n)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve sequence: %w", err)
	}
	return counter.Seq - int64(n) + 1, nil
}

// compensate removes the documents this batch managed to insert before a
// duplicate key stopped it.
func (s *session[T, ID]) compensate(ctx context.Context, ids []string, first int64) {
	_, _ = s.provider.coll.DeleteMany(ctx, bson.M{
		"_id": bson.M{"$in": ids},
		"seq": bson.M{"$gte": first, "$lt": first + int64(len(ids))},
	})
}
