package es

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
)

// ReadMode governs how much a read trusts an existing snapshot.
type ReadMode int

const (
	// SnapshotOnly returns the stored snapshot as-is, or AggregateNotFound.
	SnapshotOnly ReadMode = iota
	// SnapshotWithNewEvents catches the snapshot up with newer events,
	// persisting the result, or returns AggregateNotFound without one.
	SnapshotWithNewEvents
	// SnapshotOrCreate behaves like SnapshotOnly but replays the stream and
	// creates the snapshot when none exists.
	SnapshotOrCreate
	// SnapshotWithNewEventsOrCreate always converges on the stream's head,
	// creating the snapshot when none exists.
	SnapshotWithNewEventsOrCreate
)

func (m ReadMode) String() string {
	switch m {
	case SnapshotOnly:
		return "snapshot-only"
	case SnapshotWithNewEvents:
		return "snapshot-with-new-events"
	case SnapshotOrCreate:
		return "snapshot-or-create"
	case SnapshotWithNewEventsOrCreate:
		return "snapshot-with-new-events-or-create"
	default:
		return "unknown"
	}
}

func (m ReadMode) catchesUp() bool {
	return m == SnapshotWithNewEvents || m == SnapshotWithNewEventsOrCreate
}

func (m ReadMode) creates() bool {
	return m == SnapshotOrCreate || m == SnapshotWithNewEventsOrCreate
}

// GetAggregate reconciles the aggregate's last-known snapshot with the
// stream's event log according to mode. Reads never write unless the
// aggregate's version changed; when it did, the refreshed snapshot and one
// relationship record per newly-applied event persist as a single atomic
// unit.
func (s *AggregateService[T]) GetAggregate(ctx context.Context, stream StreamID, id AggregateID, mode ReadMode) (*Aggregate[T], error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "get aggregate "+mode.String())
	defer span.End()

	snapshot, err := s.streams.store.GetSnapshot(ctx, stream, id)
	if err != nil && !errors.Is(err, SnapshotNotFound) {
		return nil, errors.Wrap(err, "failed to read snapshot")
	}

	if snapshot == nil {
		if !mode.creates() {
			return nil, AggregateNotFound
		}
		return s.replayAndPersist(ctx, stream, id)
	}

	aggregate, err := s.decodeSnapshot(snapshot)
	if err != nil {
		return nil, err
	}

	if !mode.catchesUp() {
		return aggregate, nil
	}

	return s.catchUp(ctx, aggregate, snapshot)
}

// UpdateAggregate forces a catch-up, creating the snapshot when absent.
func (s *AggregateService[T]) UpdateAggregate(ctx context.Context, stream StreamID, id AggregateID) (*Aggregate[T], error) {
	return s.GetAggregate(ctx, stream, id, SnapshotWithNewEventsOrCreate)
}

type ReplayOptions struct {
	UpToSequence int64
	UpToDate     *time.Time
}

type ReplayOption func(options *ReplayOptions)

func UpToSequence(sequence int64) ReplayOption {
	return func(options *ReplayOptions) {
		options.UpToSequence = sequence
	}
}

func UpToDate(date time.Time) ReplayOption {
	return func(options *ReplayOptions) {
		options.UpToDate = &date
	}
}

// GetInMemoryAggregate replays the stream into a fresh aggregate without
// reading or writing snapshots or relationship records. With no matching
// events it returns an empty aggregate at version 0, never AggregateNotFound;
// there is no snapshot here to be absent.
func (s *AggregateService[T]) GetInMemoryAggregate(ctx context.Context, stream StreamID, id AggregateID, options ...ReplayOption) (*Aggregate[T], error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "replay aggregate")
	defer span.End()

	bounds := &ReplayOptions{}
	for _, option := range options {
		option(bounds)
	}

	query := QueryAll()
	if bounds.UpToSequence > 0 {
		query = QueryUpToSequence(bounds.UpToSequence)
	} else if bounds.UpToDate != nil {
		query = QueryUpToDate(*bounds.UpToDate)
	}

	events, err := s.streams.store.GetEvents(ctx, stream, query.WithTypes(s.projection.Filter()...))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read events")
	}

	aggregate := NewAggregate[T](stream, id)
	if _, err := ApplyEvents(s.streams.codec, &s.projection, aggregate, events); err != nil {
		return nil, err
	}

	return aggregate, nil
}

// catchUp applies events newer than the snapshot's position. When nothing
// applied, the snapshot stays untouched; an unchanged version after an
// unfiltered fetch means every new event fell outside the filter, and the
// advance is kept in memory only.
func (s *AggregateService[T]) catchUp(ctx context.Context, aggregate *Aggregate[T], snapshot *SnapshotRecord) (*Aggregate[T], error) {
	query := QueryFromSequence(snapshot.LatestEventSequence + 1).WithTypes(s.projection.Filter()...)
	events, err := s.streams.store.GetEvents(ctx, aggregate.StreamID, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read events")
	}

	applied, err := ApplyEvents(s.streams.codec, &s.projection, aggregate, events)
	if err != nil {
		return nil, err
	}

	if len(applied) == 0 {
		return aggregate, nil
	}

	now := s.streams.clock.Now()
	record := s.encodeable(aggregate)
	record.CreatedAt = snapshot.CreatedAt
	record.CreatedBy = snapshot.CreatedBy
	record.UpdatedAt = TimestampFromTime(now)
	record.UpdatedBy = s.streams.actors.CurrentActor(ctx)

	encoded, err := s.encodeSnapshot(aggregate, record)
	if err != nil {
		return nil, err
	}

	commit := Commit{
		StreamID:      aggregate.StreamID,
		Snapshot:      &SnapshotUpsert{Record: *encoded, IsNew: false},
		Relationships: s.relationships(aggregate.AggregateID, applied, now),
	}
	if err := s.streams.store.Commit(ctx, commit); err != nil {
		return nil, errors.Wrap(err, "failed to persist catch-up")
	}

	return aggregate, nil
}

// replayAndPersist rebuilds an aggregate with no snapshot from the full
// filtered stream, persisting a new snapshot when anything applied.
func (s *AggregateService[T]) replayAndPersist(ctx context.Context, stream StreamID, id AggregateID) (*Aggregate[T], error) {
	events, err := s.streams.store.GetEvents(ctx, stream, QueryAll().WithTypes(s.projection.Filter()...))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read events")
	}

	aggregate := NewAggregate[T](stream, id)
	applied, err := ApplyEvents(s.streams.codec, &s.projection, aggregate, events)
	if err != nil {
		return nil, err
	}

	if len(applied) == 0 {
		return nil, AggregateNotFound
	}

	now := s.streams.clock.Now()
	actor := s.streams.actors.CurrentActor(ctx)
	timestamp := TimestampFromTime(now)

	record := s.encodeable(aggregate)
	record.CreatedAt = timestamp
	record.CreatedBy = actor
	record.UpdatedAt = timestamp
	record.UpdatedBy = actor

	encoded, err := s.encodeSnapshot(aggregate, record)
	if err != nil {
		return nil, err
	}

	commit := Commit{
		StreamID:      stream,
		Snapshot:      &SnapshotUpsert{Record: *encoded, IsNew: true},
		Relationships: s.relationships(id, applied, now),
	}
	if err := s.streams.store.Commit(ctx, commit); err != nil {
		return nil, errors.Wrap(err, "failed to persist snapshot")
	}

	return aggregate, nil
}

func (s *AggregateService[T]) decodeSnapshot(snapshot *SnapshotRecord) (*Aggregate[T], error) {
	if snapshot.AggregateType != s.projection.Name {
		return nil, &TypeResolutionError{Name: snapshot.AggregateType}
	}
	if _, err := s.streams.registry.Resolve(snapshot.AggregateType); err != nil {
		return nil, err
	}

	aggregate := NewAggregate[T](snapshot.StreamID, snapshot.AggregateID)
	if err := s.streams.codec.Decode(snapshot.State, aggregate.State); err != nil {
		return nil, errors.Wrap(err, "failed to decode snapshot state")
	}

	aggregate.Version = snapshot.Version
	aggregate.LatestEventSequence = snapshot.LatestEventSequence

	return aggregate, nil
}

// encodeable seeds a snapshot record with everything except audit fields.
func (s *AggregateService[T]) encodeable(aggregate *Aggregate[T]) SnapshotRecord {
	return SnapshotRecord{
		StreamID:            aggregate.StreamID,
		AggregateID:         aggregate.AggregateID,
		AggregateType:       s.projection.Name,
		Version:             aggregate.Version,
		LatestEventSequence: aggregate.LatestEventSequence,
	}
}

func (s *AggregateService[T]) encodeSnapshot(aggregate *Aggregate[T], record SnapshotRecord) (*SnapshotRecord, error) {
	state, err := s.streams.codec.Encode(aggregate.State)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode snapshot state")
	}

	record.State = state
	return &record, nil
}

func (s *AggregateService[T]) relationships(id AggregateID, applied []RecordedEvent, at time.Time) []RelationshipRecord {
	timestamp := TimestampFromTime(at)
	records := make([]RelationshipRecord, len(applied))
	for index, event := range applied {
		records[index] = RelationshipRecord{
			AggregateID: id,
			EventID:     event.EventID,
			AppliedAt:   timestamp,
		}
	}

	return records
}
