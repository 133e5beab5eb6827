package dynamo

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"

	es "github.com/harborview/eventsource-go"
)

// Store is the document-store provider. One table holds everything:
//
//	stream partition    pk=stream#<id>     sk=event#<seq, zero padded>
//	                                       sk=latest-sequence
//	                                       sk=snapshot#<aggregate>
//	aggregate partition pk=aggregate#<id>  sk=applied#<event id>
//
// The latest-sequence item is the optimistic-concurrency guard: commits that
// carry events put it with a conditional expression on the expected sequence,
// so conflicting writers cancel the whole transaction.
type Store struct {
	db    *dynamodb.Client
	table string
}

type TableName string

func (name TableName) String() string {
	return string(name)
}

func NewStore(db *dynamodb.Client, table TableName) *Store {
	return &Store{db: db, table: string(table)}
}

type eventItem struct {
	PartitionKey string `dynamodbav:"pk"`
	SortKey      string `dynamodbav:"sk"`
	EventID      string `dynamodbav:"id"`
	StreamID     string `dynamodbav:"stream"`
	Sequence     int64  `dynamodbav:"sequence"`
	EventType    string `dynamodbav:"type"`
	Encoding     string `dynamodbav:"encoding"`
	Payload      []byte `dynamodbav:"payload"`
	CreatedAt    string `dynamodbav:"created_at"`
	CreatedBy    string `dynamodbav:"created_by,omitempty"`
	CreatedMs    int64  `dynamodbav:"ts"`
}

type latestItem struct {
	PartitionKey string `dynamodbav:"pk"`
	SortKey      string `dynamodbav:"sk"`
	Sequence     int64  `dynamodbav:"sequence"`
}

type snapshotItem struct {
	PartitionKey  string `dynamodbav:"pk"`
	SortKey       string `dynamodbav:"sk"`
	StreamID      string `dynamodbav:"stream"`
	AggregateID   string `dynamodbav:"aggregate"`
	AggregateType string `dynamodbav:"type"`
	Version       int64  `dynamodbav:"version"`
	LatestSeq     int64  `dynamodbav:"latest_sequence"`
	Encoding      string `dynamodbav:"encoding"`
	State         []byte `dynamodbav:"state"`
	CreatedAt     string `dynamodbav:"created_at"`
	CreatedBy     string `dynamodbav:"created_by,omitempty"`
	UpdatedAt     string `dynamodbav:"updated_at"`
	UpdatedBy     string `dynamodbav:"updated_by,omitempty"`
}

type relationshipItem struct {
	PartitionKey string `dynamodbav:"pk"`
	SortKey      string `dynamodbav:"sk"`
	AggregateID  string `dynamodbav:"aggregate"`
	EventID      string `dynamodbav:"event"`
	AppliedAt    string `dynamodbav:"applied_at"`
}

func streamKey(stream es.StreamID) string {
	return "stream#" + stream.String()
}

func aggregateKey(aggregate es.AggregateID) string {
	return "aggregate#" + aggregate.String()
}

func eventSortKey(sequence int64) string {
	return fmt.Sprintf("event#%020d", sequence)
}

func snapshotSortKey(aggregate es.AggregateID) string {
	return "snapshot#" + aggregate.String()
}

const latestSortKey = "latest-sequence"

// The sort key carries the event id only, so a replayed catch-up overwrites
// its own record instead of duplicating it; appliedAt ordering happens on
// read.
func relationshipSortKey(record *es.RelationshipRecord) string {
	return "applied#" + record.EventID.String()
}

func unixMilli(ts es.Timestamp) int64 {
	t, err := ts.Time()
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

func toEventItem(event *es.RecordedEvent) eventItem {
	return eventItem{
		PartitionKey: streamKey(event.StreamID),
		SortKey:      eventSortKey(event.Sequence),
		EventID:      event.EventID.String(),
		StreamID:     event.StreamID.String(),
		Sequence:     event.Sequence,
		EventType:    event.EventType.String(),
		Encoding:     event.Data.Encoding,
		Payload:      event.Data.Data,
		CreatedAt:    event.CreatedAt.String(),
		CreatedBy:    event.CreatedBy.String(),
		CreatedMs:    unixMilli(event.CreatedAt),
	}
}

func fromEventItem(item *eventItem) es.RecordedEvent {
	return es.RecordedEvent{
		EventID:   es.EventID(item.EventID),
		StreamID:  es.StreamID(item.StreamID),
		Sequence:  item.Sequence,
		EventType: es.EventType(item.EventType),
		Data:      es.Data{Encoding: item.Encoding, Data: item.Payload},
		CreatedAt: es.Timestamp(item.CreatedAt),
		CreatedBy: es.ActorID(item.CreatedBy),
	}
}

func toSnapshotItem(record *es.SnapshotRecord) snapshotItem {
	return snapshotItem{
		PartitionKey:  streamKey(record.StreamID),
		SortKey:       snapshotSortKey(record.AggregateID),
		StreamID:      record.StreamID.String(),
		AggregateID:   record.AggregateID.String(),
		AggregateType: record.AggregateType.String(),
		Version:       record.Version,
		LatestSeq:     record.LatestEventSequence,
		Encoding:      record.State.Encoding,
		State:         record.State.Data,
		CreatedAt:     record.CreatedAt.String(),
		CreatedBy:     record.CreatedBy.String(),
		UpdatedAt:     record.UpdatedAt.String(),
		UpdatedBy:     record.UpdatedBy.String(),
	}
}

func fromSnapshotItem(item *snapshotItem) es.SnapshotRecord {
	return es.SnapshotRecord{
		StreamID:            es.StreamID(item.StreamID),
		AggregateID:         es.AggregateID(item.AggregateID),
		AggregateType:       es.TypeName(item.AggregateType),
		Version:             item.Version,
		LatestEventSequence: item.LatestSeq,
		State:               es.Data{Encoding: item.Encoding, Data: item.State},
		CreatedAt:           es.Timestamp(item.CreatedAt),
		CreatedBy:           es.ActorID(item.CreatedBy),
		UpdatedAt:           es.Timestamp(item.UpdatedAt),
		UpdatedBy:           es.ActorID(item.UpdatedBy),
	}
}

func (ds *Store) GetSnapshot(ctx context.Context, stream es.StreamID, aggregate es.AggregateID) (*es.SnapshotRecord, error) {
	key, err := attributevalue.MarshalMap(map[string]string{
		"pk": streamKey(stream),
		"sk": snapshotSortKey(aggregate),
	})
	if err != nil {
		return nil, err
	}

	out, err := ds.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(ds.table),
		Key:       key,
	})
	if err != nil {
		return nil, err
	}

	if out.Item == nil {
		return nil, es.SnapshotNotFound
	}

	var item snapshotItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, err
	}

	record := fromSnapshotItem(&item)
	return &record, nil
}

func (ds *Store) PutSnapshot(ctx context.Context, snapshot es.SnapshotRecord, isNew bool) error {
	item, err := attributevalue.MarshalMap(toSnapshotItem(&snapshot))
	if err != nil {
		return err
	}

	put := &dynamodb.PutItemInput{
		TableName: aws.String(ds.table),
		Item:      item,
	}

	if isNew {
		condition, err := expression.NewBuilder().WithCondition(
			expression.AttributeNotExists(expression.Name("pk")),
		).Build()
		if err != nil {
			return err
		}
		put.ConditionExpression = condition.Condition()
		put.ExpressionAttributeNames = condition.Names()
	}

	_, err = ds.db.PutItem(ctx, put)
	return err
}

func (ds *Store) GetEvents(ctx context.Context, stream es.StreamID, query es.EventQuery) ([]es.RecordedEvent, error) {
	from := query.FromSequence
	if from < 1 {
		from = 1
	}
	to := query.ToSequence
	if to < 1 {
		to = int64(1)<<62 - 1
	}

	key := expression.Key("pk").Equal(expression.Value(streamKey(stream))).And(
		expression.Key("sk").Between(
			expression.Value(eventSortKey(from)),
			expression.Value(eventSortKey(to))),
	)

	builder := expression.NewBuilder().WithKeyCondition(key)

	var filters []expression.ConditionBuilder
	if query.FromDate != nil {
		filters = append(filters, expression.Name("ts").GreaterThanEqual(expression.Value(query.FromDate.UnixMilli())))
	}
	if query.ToDate != nil {
		filters = append(filters, expression.Name("ts").LessThanEqual(expression.Value(query.ToDate.UnixMilli())))
	}
	if len(query.Types) > 0 {
		filters = append(filters, typeFilter(query.Types))
	}
	if len(filters) > 0 {
		filter := filters[0]
		for _, f := range filters[1:] {
			filter = filter.And(f)
		}
		builder = builder.WithFilter(filter)
	}

	expr, err := builder.Build()
	if err != nil {
		return nil, err
	}

	var events []es.RecordedEvent
	var start map[string]types.AttributeValue
	for {
		out, err := ds.db.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(ds.table),
			ExclusiveStartKey:         start,
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
		})
		if err != nil {
			return nil, err
		}

		var items []eventItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, err
		}

		for i := range items {
			events = append(events, fromEventItem(&items[i]))
		}

		start = out.LastEvaluatedKey
		if start == nil {
			break
		}
	}

	return events, nil
}

func typeFilter(eventTypes []es.EventType) expression.ConditionBuilder {
	operands := make([]expression.OperandBuilder, 0, len(eventTypes))
	for _, t := range eventTypes {
		operands = append(operands, expression.Value(t.String()))
	}

	if len(operands) == 1 {
		return expression.Name("type").Equal(operands[0])
	}
	return expression.Name("type").In(operands[0], operands[1:]...)
}

func (ds *Store) GetEventsByIDs(ctx context.Context, stream es.StreamID, ids []es.EventID) ([]es.RecordedEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	operands := make([]expression.OperandBuilder, 0, len(ids))
	for _, id := range ids {
		operands = append(operands, expression.Value(id.String()))
	}

	var filter expression.ConditionBuilder
	if len(operands) == 1 {
		filter = expression.Name("id").Equal(operands[0])
	} else {
		filter = expression.Name("id").In(operands[0], operands[1:]...)
	}

	key := expression.Key("pk").Equal(expression.Value(streamKey(stream))).And(
		expression.Key("sk").BeginsWith("event#"),
	)

	expr, err := expression.NewBuilder().WithKeyCondition(key).WithFilter(filter).Build()
	if err != nil {
		return nil, err
	}

	var events []es.RecordedEvent
	var start map[string]types.AttributeValue
	for {
		out, err := ds.db.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(ds.table),
			ExclusiveStartKey:         start,
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
		})
		if err != nil {
			return nil, err
		}

		var items []eventItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, err
		}

		for i := range items {
			events = append(events, fromEventItem(&items[i]))
		}

		start = out.LastEvaluatedKey
		if start == nil {
			break
		}
	}

	return events, nil
}

func (ds *Store) GetLatestSequence(ctx context.Context, stream es.StreamID, eventTypes []es.EventType) (int64, error) {
	if len(eventTypes) == 0 {
		return ds.latest(ctx, stream)
	}

	key := expression.Key("pk").Equal(expression.Value(streamKey(stream))).And(
		expression.Key("sk").BeginsWith("event#"),
	)

	expr, err := expression.NewBuilder().WithKeyCondition(key).WithFilter(typeFilter(eventTypes)).Build()
	if err != nil {
		return 0, err
	}

	var start map[string]types.AttributeValue
	for {
		out, err := ds.db.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(ds.table),
			ExclusiveStartKey:         start,
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			ScanIndexForward:          aws.Bool(false),
		})
		if err != nil {
			return 0, err
		}

		if len(out.Items) > 0 {
			var items []eventItem
			if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
				return 0, err
			}
			return items[0].Sequence, nil
		}

		start = out.LastEvaluatedKey
		if start == nil {
			return 0, nil
		}
	}
}

func (ds *Store) latest(ctx context.Context, stream es.StreamID) (int64, error) {
	key, err := attributevalue.MarshalMap(map[string]string{
		"pk": streamKey(stream),
		"sk": latestSortKey,
	})
	if err != nil {
		return 0, err
	}

	out, err := ds.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(ds.table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, err
	}

	if out.Item == nil {
		return 0, nil
	}

	var item latestItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return 0, err
	}

	return item.Sequence, nil
}

func latestCondition(expected int64) expression.ConditionBuilder {
	if expected == 0 {
		return expression.AttributeNotExists(expression.Name("pk"))
	}

	return expression.Name("sequence").Equal(expression.Value(expected))
}

// Commit writes the unit with a single TransactWriteItems call. When events
// are present the latest-sequence guard item carries the expected-sequence
// condition; a ConditionalCheckFailed cancellation maps to SequenceConflict.
func (ds *Store) Commit(ctx context.Context, commit es.Commit) error {
	var actions []types.TransactWriteItem

	if len(commit.Events) > 0 {
		last := commit.Events[len(commit.Events)-1].Sequence
		guard, err := attributevalue.MarshalMap(latestItem{
			PartitionKey: streamKey(commit.StreamID),
			SortKey:      latestSortKey,
			Sequence:     last,
		})
		if err != nil {
			return err
		}

		condition, err := expression.NewBuilder().WithCondition(
			latestCondition(commit.ExpectedSequence),
		).Build()
		if err != nil {
			return err
		}

		actions = append(actions, types.TransactWriteItem{
			Put: &types.Put{
				Item:                                guard,
				TableName:                           aws.String(ds.table),
				ConditionExpression:                 condition.Condition(),
				ExpressionAttributeNames:            condition.Names(),
				ExpressionAttributeValues:           condition.Values(),
				ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureNone,
			},
		})

		for i := range commit.Events {
			item, err := attributevalue.MarshalMap(toEventItem(&commit.Events[i]))
			if err != nil {
				return err
			}
			actions = append(actions, types.TransactWriteItem{
				Put: &types.Put{
					Item:      item,
					TableName: aws.String(ds.table),
				},
			})
		}
	}

	if commit.Snapshot != nil {
		item, err := attributevalue.MarshalMap(toSnapshotItem(&commit.Snapshot.Record))
		if err != nil {
			return err
		}

		put := &types.Put{
			Item:      item,
			TableName: aws.String(ds.table),
		}

		if commit.Snapshot.IsNew {
			condition, err := expression.NewBuilder().WithCondition(
				expression.AttributeNotExists(expression.Name("pk")),
			).Build()
			if err != nil {
				return err
			}
			put.ConditionExpression = condition.Condition()
			put.ExpressionAttributeNames = condition.Names()
		}

		actions = append(actions, types.TransactWriteItem{Put: put})
	}

	for i := range commit.Relationships {
		record := &commit.Relationships[i]
		item, err := attributevalue.MarshalMap(relationshipItem{
			PartitionKey: aggregateKey(record.AggregateID),
			SortKey:      relationshipSortKey(record),
			AggregateID:  record.AggregateID.String(),
			EventID:      record.EventID.String(),
			AppliedAt:    record.AppliedAt.String(),
		})
		if err != nil {
			return err
		}
		actions = append(actions, types.TransactWriteItem{
			Put: &types.Put{
				Item:      item,
				TableName: aws.String(ds.table),
			},
		})
	}

	if len(actions) == 0 {
		return errors.New("attempted to commit an empty unit")
	}

	_, err := ds.db.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: actions,
	})

	return maybeSequenceConflict(err)
}

func maybeSequenceConflict(err error) error {
	if err == nil {
		return nil
	}

	var oe *smithy.OperationError
	if errors.As(err, &oe) {
		var re *http.ResponseError
		if errors.As(oe.Unwrap(), &re) {
			var tc *types.TransactionCanceledException
			if errors.As(re.Unwrap(), &tc) {
				for _, reason := range tc.CancellationReasons {
					if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
						return es.SequenceConflict
					}
				}
			}
		}
	}

	return err
}

func (ds *Store) GetRelationships(ctx context.Context, aggregate es.AggregateID) ([]es.RelationshipRecord, error) {
	key := expression.Key("pk").Equal(expression.Value(aggregateKey(aggregate))).And(
		expression.Key("sk").BeginsWith("applied#"),
	)

	expr, err := expression.NewBuilder().WithKeyCondition(key).Build()
	if err != nil {
		return nil, err
	}

	var records []es.RelationshipRecord
	var start map[string]types.AttributeValue
	for {
		out, err := ds.db.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(ds.table),
			ExclusiveStartKey:         start,
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			KeyConditionExpression:    expr.KeyCondition(),
		})
		if err != nil {
			return nil, err
		}

		var items []relationshipItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, err
		}

		for _, item := range items {
			records = append(records, es.RelationshipRecord{
				AggregateID: es.AggregateID(item.AggregateID),
				EventID:     es.EventID(item.EventID),
				AppliedAt:   es.Timestamp(item.AppliedAt),
			})
		}

		start = out.LastEvaluatedKey
		if start == nil {
			break
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		left, leftErr := records[i].AppliedAt.Time()
		right, rightErr := records[j].AppliedAt.Time()
		if leftErr != nil || rightErr != nil {
			return records[i].AppliedAt < records[j].AppliedAt
		}
		return left.Before(right)
	})

	return records, nil
}
