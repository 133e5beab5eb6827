package es

import (
	"context"
	"time"
)

// EventQuery bounds an event-log read. Zero sequence bounds and nil date
// bounds are unbounded; all bounds are inclusive. Types, when non-empty,
// restricts the result to those event types.
type EventQuery struct {
	FromSequence int64
	ToSequence   int64
	FromDate     *time.Time
	ToDate       *time.Time
	Types        []EventType
}

func QueryAll() EventQuery {
	return EventQuery{}
}

func QueryFromSequence(from int64) EventQuery {
	return EventQuery{FromSequence: from}
}

func QueryUpToSequence(to int64) EventQuery {
	return EventQuery{ToSequence: to}
}

func QueryBetweenSequences(from int64, to int64) EventQuery {
	return EventQuery{FromSequence: from, ToSequence: to}
}

func QueryFromDate(from time.Time) EventQuery {
	return EventQuery{FromDate: &from}
}

func QueryUpToDate(to time.Time) EventQuery {
	return EventQuery{ToDate: &to}
}

func QueryBetweenDates(from time.Time, to time.Time) EventQuery {
	f, t := from, to
	return EventQuery{FromDate: &f, ToDate: &t}
}

func (q EventQuery) WithTypes(types ...EventType) EventQuery {
	q.Types = types
	return q
}

// Matches evaluates the query against a single event. Providers without
// native filter pushdown use it to apply the query client-side.
func (q EventQuery) Matches(evt *RecordedEvent) bool {
	if q.FromSequence > 0 && evt.Sequence < q.FromSequence {
		return false
	}
	if q.ToSequence > 0 && evt.Sequence > q.ToSequence {
		return false
	}

	if q.FromDate != nil || q.ToDate != nil {
		created, err := evt.CreatedAt.Time()
		if err != nil {
			return false
		}
		if q.FromDate != nil && created.Before(*q.FromDate) {
			return false
		}
		if q.ToDate != nil && created.After(*q.ToDate) {
			return false
		}
	}

	if len(q.Types) > 0 {
		match := false
		for _, t := range q.Types {
			if evt.EventType == t {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	return true
}

// SnapshotRecord is the durable, serialized copy of an aggregate's state at a
// specific stream position. Replaced wholesale on every update; never itself
// event-sourced; never deleted by this library.
type SnapshotRecord struct {
	StreamID            StreamID    `json:"stream"`
	AggregateID         AggregateID `json:"aggregate"`
	AggregateType       TypeName    `json:"type"`
	Version             int64       `json:"version"`
	LatestEventSequence int64       `json:"latestEventSequence"`
	State               Data        `json:"state"`
	CreatedAt           Timestamp   `json:"createdAt"`
	CreatedBy           ActorID     `json:"createdBy,omitempty"`
	UpdatedAt           Timestamp   `json:"updatedAt"`
	UpdatedBy           ActorID     `json:"updatedBy,omitempty"`
}

// RelationshipRecord is evidence that a specific aggregate instance applied a
// specific event. Distinct aggregates may each hold a record for the same
// event; that is the expected shape when one stream feeds several
// projections.
type RelationshipRecord struct {
	AggregateID AggregateID `json:"aggregate"`
	EventID     EventID     `json:"event"`
	AppliedAt   Timestamp   `json:"appliedAt"`
}

type SnapshotUpsert struct {
	Record SnapshotRecord
	IsNew  bool
}

// Commit is the unit of atomic persistence: new events, an optional snapshot
// upsert, and relationship inserts all land together or not at all.
//
// ExpectedSequence is enforced only when Events is non-empty: the store must
// reject the whole commit with SequenceConflict unless the stream's latest
// sequence equals it at write time. Snapshot-only commits (reconciliation
// catch-up) carry no events and no sequence condition.
//
// Relationship inserts are idempotent per (aggregate, event): racing
// catch-ups may both submit a record for the same event, and the later
// commit must succeed without duplicating the ledger entry.
type Commit struct {
	StreamID         StreamID
	ExpectedSequence int64
	Events           []RecordedEvent
	Snapshot         *SnapshotUpsert
	Relationships    []RelationshipRecord
}

// Store is the port implemented by each storage provider. Implementations
// hold no session state between calls; reads never block writes. Once Commit
// has been submitted to the underlying engine, cancellation is no longer
// honored: the unit is atomic, not interruptible.
type Store interface {
	// GetSnapshot returns SnapshotNotFound when no snapshot exists.
	GetSnapshot(ctx context.Context, stream StreamID, aggregate AggregateID) (*SnapshotRecord, error)

	PutSnapshot(ctx context.Context, snapshot SnapshotRecord, isNew bool) error

	// GetEvents returns matching events in ascending sequence order.
	GetEvents(ctx context.Context, stream StreamID, query EventQuery) ([]RecordedEvent, error)

	GetEventsByIDs(ctx context.Context, stream StreamID, ids []EventID) ([]RecordedEvent, error)

	// GetLatestSequence returns the highest sequence in the stream, or the
	// highest among events of the given types when types is non-empty.
	// Returns 0 for an empty stream.
	GetLatestSequence(ctx context.Context, stream StreamID, types []EventType) (int64, error)

	// Commit persists the unit atomically, returning SequenceConflict when
	// the expected-sequence condition fails.
	Commit(ctx context.Context, commit Commit) error

	// GetRelationships returns the aggregate's records ordered by appliedAt.
	GetRelationships(ctx context.Context, aggregate AggregateID) ([]RelationshipRecord, error)
}
