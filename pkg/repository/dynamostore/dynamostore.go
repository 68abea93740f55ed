// Package dynamostore implements repository sessions on DynamoDB.
//
// Entities of one type share a table keyed by the string attribute "id".
// Each row stores the JSON document in "doc", the optimistic version in
// "version" and an insertion sequence in "seq"; a counter row with id "#seq"
// hands out sequence numbers. Writes run as TransactWriteItems, so a batch of
// up to MaxBatch entities is applied completely or not at all. Larger batches
// are split and each chunk commits on its own.
package dynamostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nimburion/bucketstore/pkg/query"
	"github.com/nimburion/bucketstore/pkg/repository"
)

// MaxBatch is the TransactWriteItems item limit.
const MaxBatch = 100

const (
	// HashKey is the partition key attribute of every table.
	HashKey = "id"

	attrSeq     = "seq"
	attrDoc     = "doc"
	attrVersion = "version"
	counterID   = "#seq"

	codeConditionFailed = "ConditionalCheckFailed"
)

var names = map[string]string{
	"#id":      HashKey,
	"#seq":     attrSeq,
	"#doc":     attrDoc,
	"#version": attrVersion,
}

// API is the part of *dynamodb.Client the sessions use.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Provider hands out sessions over one table. It implements
// repository.SessionProvider.
type Provider[T any, ID comparable] struct {
	api   API
	table string
	idOf  func(*T) ID
}

// NewProvider creates a Provider over table.
func NewProvider[T any, ID comparable](api API, table string, idOf func(*T) ID) (*Provider[T, ID], error) {
	if api == nil {
		return nil, errors.New("dynamostore: client is required")
	}
	if table == "" {
		return nil, errors.New("dynamostore: table is required")
	}
	if idOf == nil {
		return nil, errors.New("dynamostore: id function is required")
	}
	return &Provider[T, ID]{api: api, table: table, idOf: idOf}, nil
}

// Table returns the table name.
func (p *Provider[T, ID]) Table() string {
	return p.table
}

// Acquire returns a session. The SDK client is safe for concurrent use, so
// sessions hold nothing to release.
func (p *Provider[T, ID]) Acquire(ctx context.Context) (repository.Session[T, ID], func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return &session[T, ID]{p: p}, func() {}, nil
}

type session[T any, ID comparable] struct {
	p *Provider[T, ID]
}

type row[T any] struct {
	seq    int64
	entity T
}

func (s *session[T, ID]) Load(ctx context.Context) ([]T, error) {
	pages := dynamodb.NewScanPaginator(s.p.api, &dynamodb.ScanInput{
		TableName:                aws.String(s.p.table),
		ConsistentRead:           aws.Bool(true),
		FilterExpression:         aws.String("#id <> :counter"),
		ExpressionAttributeNames: map[string]string{"#id": HashKey},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":counter": str(counterID),
		},
	})

	var rows []row[T]
	for pages.HasMorePages() {
		out, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", s.p.table, err)
		}
		for _, item := range out.Items {
			seq, err := number(item[attrSeq])
			if err != nil {
				return nil, err
			}
			entity, err := decode[T](item)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row[T]{seq: seq, entity: entity})
		}
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	entities := make([]T, len(rows))
	for i, r := range rows {
		entities[i] = r.entity
	}
	return entities, nil
}

func (s *session[T, ID]) LoadByID(ctx context.Context, id ID) (*T, error) {
	key := fmt.Sprint(id)
	if key == counterID {
		return nil, nil
	}
	out, err := s.p.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.p.table),
		Key:            keyOf(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read entity: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	entity, err := decode[T](out.Item)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func (s *session[T, ID]) Insert(ctx context.Context, entities []*T) error {
	ids, err := s.ids(entities)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return fmt.Errorf("insert %s: %w", id, repository.ErrEntityExists)
		}
		seen[id] = true
	}

	docs := make([]string, len(entities))
	for i, e := range entities {
		doc, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode entity %s: %w", ids[i], err)
		}
		docs[i] = string(doc)
	}
	first, err := s.reserve(ctx, len(entities))
	if err != nil {
		return err
	}

	items := make([]types.TransactWriteItem, len(entities))
	for i, id := range ids {
		version := int64(0)
		if v, ok := any(entities[i]).(repository.Versioned); ok {
			version = v.GetVersion()
		}
		items[i] = types.TransactWriteItem{Put: &types.Put{
			TableName: aws.String(s.p.table),
			Item: map[string]types.AttributeValue{
				HashKey:     str(id),
				attrSeq:     num(first + int64(i)),
				attrDoc:     str(docs[i]),
				attrVersion: num(version),
			},
			ConditionExpression:      aws.String("attribute_not_exists(#id)"),
			ExpressionAttributeNames: map[string]string{"#id": HashKey},
		}}
	}
	return s.write(ctx, ids, items, func(id string, _ map[string]types.AttributeValue) error {
		return fmt.Errorf("insert %s: %w", id, repository.ErrEntityExists)
	})
}

func (s *session[T, ID]) Save(ctx context.Context, entities []*T) error {
	ids, err := s.unique(entities)
	if err != nil {
		return err
	}

	items := make([]types.TransactWriteItem, len(entities))
	for i, id := range ids {
		updated := *entities[i]
		next, versioned := repository.NextVersion(&updated)
		condition := "attribute_exists(#id)"
		values := map[string]types.AttributeValue{}
		if versioned {
			values[":expected"] = num(any(&updated).(repository.Versioned).GetVersion())
			condition += " AND #version = :expected"
			any(&updated).(repository.Versioned).SetVersion(next)
		}
		doc, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to encode entity %s: %w", id, err)
		}
		values[":doc"] = str(string(doc))
		values[":next"] = num(next)

		items[i] = types.TransactWriteItem{Update: &types.Update{
			TableName:                           aws.String(s.p.table),
			Key:                                 keyOf(id),
			UpdateExpression:                    aws.String("SET #doc = :doc, #version = :next"),
			ConditionExpression:                 aws.String(condition),
			ExpressionAttributeNames:            pick("#id", "#doc", "#version"),
			ExpressionAttributeValues:           values,
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		}}
	}

	err = s.write(ctx, ids, items, func(id string, old map[string]types.AttributeValue) error {
		if old == nil {
			return fmt.Errorf("update %s: %w", id, repository.ErrEntityNotFound)
		}
		actual, err := number(old[attrVersion])
		if err != nil {
			return err
		}
		for i := range ids {
			if ids[i] != id {
				continue
			}
			if err := repository.CheckVersion(entities[i], id, actual); err != nil {
				return err
			}
		}
		return fmt.Errorf("update %s: %w", id, repository.ErrConflict)
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
	ids, err := s.unique(entities)
	if err != nil {
		return err
	}
	items := make([]types.TransactWriteItem, len(ids))
	for i, id := range ids {
		items[i] = types.TransactWriteItem{Delete: &types.Delete{
			TableName:                aws.String(s.p.table),
			Key:                      keyOf(id),
			ConditionExpression:      aws.String("attribute_exists(#id)"),
			ExpressionAttributeNames: map[string]string{"#id": HashKey},
		}}
	}
	return s.write(ctx, ids, items, func(id string, _ map[string]types.AttributeValue) error {
		return fmt.Errorf("delete %s: %w", id, repository.ErrEntityNotFound)
	})
}

func (s *session[T, ID]) ids(entities []*T) ([]string, error) {
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = fmt.Sprint(s.p.idOf(e))
		if ids[i] == counterID {
			return nil, query.NewElementError("entities", i, "id "+counterID+" is reserved")
		}
	}
	return ids, nil
}

// unique rejects batches naming one id twice; a transaction may touch each
// item only once.
func (s *session[T, ID]) unique(entities []*T) ([]string, error) {
	ids, err := s.ids(entities)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(ids))
	for i, id := range ids {
		if seen[id] {
			return nil, query.NewElementError("entities", i, "duplicate id "+id)
		}
		seen[id] = true
	}
	return ids, nil
}

// reserve allocates n consecutive sequence numbers and returns the first.
func (s *session[T, ID]) reserve(ctx context.Context, n int) (int64, error) {
	out, err := s.p.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.p.table),
		Key:                       keyOf(counterID),
		UpdateExpression:          aws.String("ADD #seq :n"),
		ExpressionAttributeNames:  pick("#seq"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":n": num(int64(n))},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reserve sequence numbers: %w", err)
	}
	last, err := number(out.Attributes[attrSeq])
	if err != nil {
		return 0, err
	}
	return last - int64(n) + 1, nil
}

// write commits items in chunks of MaxBatch. A failed condition is reported
// through conflict with the id and, when requested, the item as it was.
func (s *session[T, ID]) write(ctx context.Context, ids []string, items []types.TransactWriteItem, conflict func(id string, old map[string]types.AttributeValue) error) error {
	for start := 0; start < len(items); start += MaxBatch {
		end := min(start+MaxBatch, len(items))
		_, err := s.p.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: items[start:end],
		})
		if err == nil {
			continue
		}
		var cancelled *types.TransactionCanceledException
		if errors.As(err, &cancelled) {
			for i, reason := range cancelled.CancellationReasons {
				if aws.ToString(reason.Code) == codeConditionFailed && start+i < len(ids) {
					return conflict(ids[start+i], reason.Item)
				}
			}
			return fmt.Errorf("transaction cancelled: %w", repository.ErrConflict)
		}
		return fmt.Errorf("failed to write %s: %w", s.p.table, err)
	}
	return nil
}

func decode[T any](item map[string]types.AttributeValue) (T, error) {
	var entity T
	doc, ok := item[attrDoc].(*types.AttributeValueMemberS)
	if !ok {
		return entity, fmt.Errorf("row %v has no document", item[HashKey])
	}
	if err := json.Unmarshal([]byte(doc.Value), &entity); err != nil {
		return entity, fmt.Errorf("failed to decode entity: %w", err)
	}
	return entity, nil
}

func keyOf(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{HashKey: str(id)}
}

func pick(keys ...string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = names[k]
	}
	return out
}

func str(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func num(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func number(v types.AttributeValue) (int64, error) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("expected a number attribute, got %T", v)
	}
	return strconv.ParseInt(n.Value, 10, 64)
}
