package es

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
)

func (s *StreamService) GetAllEvents(ctx context.Context, stream StreamID) ([]RecordedEvent, error) {
	return s.store.GetEvents(ctx, stream, QueryAll())
}

func (s *StreamService) GetEventsFromSequence(ctx context.Context, stream StreamID, from int64) ([]RecordedEvent, error) {
	return s.store.GetEvents(ctx, stream, QueryFromSequence(from))
}

func (s *StreamService) GetEventsUpToSequence(ctx context.Context, stream StreamID, to int64) ([]RecordedEvent, error) {
	return s.store.GetEvents(ctx, stream, QueryUpToSequence(to))
}

func (s *StreamService) GetEventsBetweenSequences(ctx context.Context, stream StreamID, from int64, to int64) ([]RecordedEvent, error) {
	return s.store.GetEvents(ctx, stream, QueryBetweenSequences(from, to))
}

func (s *StreamService) GetEventsFromDate(ctx context.Context, stream StreamID, from time.Time) ([]RecordedEvent, error) {
	return s.store.GetEvents(ctx, stream, QueryFromDate(from))
}

func (s *StreamService) GetEventsUpToDate(ctx context.Context, stream StreamID, to time.Time) ([]RecordedEvent, error) {
	return s.store.GetEvents(ctx, stream, QueryUpToDate(to))
}

func (s *StreamService) GetEventsBetweenDates(ctx context.Context, stream StreamID, from time.Time, to time.Time) ([]RecordedEvent, error) {
	return s.store.GetEvents(ctx, stream, QueryBetweenDates(from, to))
}

func (s *StreamService) GetEventsByIDs(ctx context.Context, stream StreamID, ids []EventID) ([]RecordedEvent, error) {
	return s.store.GetEventsByIDs(ctx, stream, ids)
}

func (s *StreamService) GetLatestEventSequence(ctx context.Context, stream StreamID, types ...EventType) (int64, error) {
	return s.store.GetLatestSequence(ctx, stream, types)
}

// GetEventsAppliedToAggregate answers the audit question "which events did
// this aggregate instance actually apply", which differs from the stream
// contents whenever the aggregate has not caught up or filters the stream.
func (s *StreamService) GetEventsAppliedToAggregate(ctx context.Context, aggregate AggregateID) ([]RelationshipRecord, error) {
	return s.store.GetRelationships(ctx, aggregate)
}

// SaveEvents persists raw domain events with no aggregate or snapshot
// association. Sequences expected+1, expected+2, ... are assigned in
// submission order; the commit is rejected with SequenceConflict when
// expected does not match the stream's latest sequence.
func (s *StreamService) SaveEvents(ctx context.Context, stream StreamID, events []DomainEvent, expected int64) ([]RecordedEvent, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "save events")
	defer span.End()

	if len(events) == 0 {
		return nil, errors.New("attempted to save an empty list of events")
	}

	latest, err := s.store.GetLatestSequence(ctx, stream, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read latest sequence")
	}
	if latest != expected {
		s.log.Info().
			Str("stream", stream.String()).
			Int64("expected", expected).
			Int64("latest", latest).
			Msg("rejected save with stale sequence")
		return nil, SequenceConflict
	}

	recorded, err := s.record(ctx, stream, events, expected)
	if err != nil {
		return nil, err
	}

	commit := Commit{
		StreamID:         stream,
		ExpectedSequence: expected,
		Events:           recorded,
	}

	if err := s.store.Commit(ctx, commit); err != nil {
		return nil, err
	}

	return recorded, nil
}

// record encodes domain events into recorded events with assigned sequences
// and audit fields. No sequence is assigned unless every event encodes.
func (s *StreamService) record(ctx context.Context, stream StreamID, events []DomainEvent, expected int64) ([]RecordedEvent, error) {
	now := s.clock.Now()
	timestamp := TimestampFromTime(now)
	actor := s.actors.CurrentActor(ctx)

	recorded := make([]RecordedEvent, len(events))
	for index, event := range events {
		name, err := s.registry.NameOf(event)
		if err != nil {
			return nil, err
		}

		data, err := s.codec.Encode(event)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode %s", name)
		}

		recorded[index] = RecordedEvent{
			EventID:   s.ids.NewID(now),
			StreamID:  stream,
			Sequence:  expected + int64(index) + 1,
			EventType: EventType(name),
			Data:      data,
			CreatedAt: timestamp,
			CreatedBy: actor,
		}
	}

	return recorded, nil
}
