package es

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
)

// SaveAggregate persists the aggregate's uncommitted events, its refreshed
// snapshot, and one relationship record per new event as a single atomic
// unit.
//
// The caller's expected sequence must equal the stream's latest sequence or
// the save fails with SequenceConflict before any sequence is assigned;
// conflicting writers race on that check and the loser re-reads and retries.
// New events take sequences expected+1, expected+2, ... in submission order.
// The aggregate's version advances by the number of uncommitted events, and
// on success the uncommitted list is cleared.
func (s *AggregateService[T]) SaveAggregate(ctx context.Context, aggregate *Aggregate[T], expected int64) (*Aggregate[T], error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "save aggregate")
	defer span.End()

	uncommitted := aggregate.UncommittedEvents()
	if len(uncommitted) == 0 {
		return nil, errors.New("attempted to save an aggregate with no uncommitted events")
	}

	latest, err := s.streams.store.GetLatestSequence(ctx, aggregate.StreamID, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read latest sequence")
	}
	if latest != expected {
		s.streams.log.Info().
			Str("stream", aggregate.StreamID.String()).
			Str("aggregate", aggregate.AggregateID.String()).
			Int64("expected", expected).
			Int64("latest", latest).
			Msg("rejected save with stale sequence")
		return nil, SequenceConflict
	}

	recorded, err := s.streams.record(ctx, aggregate.StreamID, uncommitted, expected)
	if err != nil {
		return nil, err
	}

	creating := !aggregate.Initialized()
	priorVersion := aggregate.Version

	if _, err := ApplyEvents(s.streams.codec, &s.projection, aggregate, recorded); err != nil {
		return nil, err
	}

	// Every saved event counts toward the version, whether or not a reducer
	// consumed it; the state mutation above is best effort for unreduced
	// types.
	aggregate.Version = priorVersion + int64(len(recorded))
	aggregate.LatestEventSequence = recorded[len(recorded)-1].Sequence

	now := s.streams.clock.Now()
	actor := s.streams.actors.CurrentActor(ctx)
	timestamp := TimestampFromTime(now)

	record := s.encodeable(aggregate)
	record.UpdatedAt = timestamp
	record.UpdatedBy = actor

	if creating {
		record.CreatedAt = timestamp
		record.CreatedBy = actor
	} else {
		previous, err := s.streams.store.GetSnapshot(ctx, aggregate.StreamID, aggregate.AggregateID)
		if err != nil && !errors.Is(err, SnapshotNotFound) {
			return nil, errors.Wrap(err, "failed to read snapshot")
		}
		if previous != nil {
			record.CreatedAt = previous.CreatedAt
			record.CreatedBy = previous.CreatedBy
		} else {
			creating = true
			record.CreatedAt = timestamp
			record.CreatedBy = actor
		}
	}

	encoded, err := s.encodeSnapshot(aggregate, record)
	if err != nil {
		return nil, err
	}

	commit := Commit{
		StreamID:         aggregate.StreamID,
		ExpectedSequence: expected,
		Events:           recorded,
		Snapshot:         &SnapshotUpsert{Record: *encoded, IsNew: creating},
		Relationships:    s.relationships(aggregate.AggregateID, recorded, now),
	}

	if err := s.streams.store.Commit(ctx, commit); err != nil {
		return nil, err
	}

	aggregate.clearUncommitted()

	return aggregate, nil
}
