package es

import (
	"context"
	"testing"
	"time"

	"github.com/jaswdr/faker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreValidationSuite checks a store provider against the semantics the
// reconciliation and save engines rely on: contiguous sequences, atomic
// conflict-checked commits, ordered filtered reads, and the relationship
// ledger. Every provider's tests run it.
type StoreValidationSuite struct {
	ctx    context.Context
	store  Store
	ids    *EventIDGenerator
	faker  faker.Faker
	serial int64
}

func NewStoreValidationSuite(ctx context.Context, store Store) *StoreValidationSuite {
	return &StoreValidationSuite{
		ctx:   ctx,
		store: store,
		ids:   NewEventIDGenerator(),
		faker: faker.New(),
	}
}

func (s *StoreValidationSuite) Run(t *testing.T) {
	t.Run("reports zero latest sequence for an empty stream", s.EmptyStream)
	t.Run("persists events with contiguous sequences", s.ContiguousSequences)
	t.Run("rejects a commit with a stale expected sequence", s.RejectsStaleCommit)
	t.Run("leaves nothing behind after a rejected commit", s.RejectedCommitIsAtomic)
	t.Run("bounds reads by sequence", s.BoundsBySequence)
	t.Run("bounds reads by date", s.BoundsByDate)
	t.Run("filters reads by event type", s.FiltersByType)
	t.Run("fetches events by id", s.FetchesByID)
	t.Run("filters latest sequence by event type", s.FiltersLatestByType)
	t.Run("round-trips snapshots", s.SnapshotRoundTrip)
	t.Run("reports missing snapshots", s.MissingSnapshot)
	t.Run("orders relationships by applied time", s.OrdersRelationships)
	t.Run("tolerates replayed relationship records", s.ReplayedRelationships)
}

func (s *StoreValidationSuite) MakeStream() StreamID {
	return StreamID("validation-" + s.ids.NewID(time.Now()).String())
}

func (s *StoreValidationSuite) MakeEvents(stream StreamID, from int64, count int, eventType EventType) []RecordedEvent {
	now := time.Now()
	events := make([]RecordedEvent, count)
	for i := 0; i < count; i++ {
		s.serial++
		payload := Data{
			Encoding: "application/json",
			Data:     []byte(`{"note":"` + s.faker.Lorem().Word() + `"}`),
		}
		events[i] = RecordedEvent{
			EventID:   s.ids.NewID(now),
			StreamID:  stream,
			Sequence:  from + int64(i) + 1,
			EventType: eventType,
			Data:      payload,
			CreatedAt: TimestampFromTime(now.Add(time.Duration(s.serial) * time.Second)),
		}
	}

	return events
}

func (s *StoreValidationSuite) append(t *testing.T, stream StreamID, from int64, count int, eventType EventType) []RecordedEvent {
	events := s.MakeEvents(stream, from, count, eventType)
	err := s.store.Commit(s.ctx, Commit{
		StreamID:         stream,
		ExpectedSequence: from,
		Events:           events,
	})
	require.NoError(t, err)

	return events
}

func (s *StoreValidationSuite) EmptyStream(t *testing.T) {
	latest, err := s.store.GetLatestSequence(s.ctx, s.MakeStream(), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, latest)
}

func (s *StoreValidationSuite) ContiguousSequences(t *testing.T) {
	stream := s.MakeStream()
	s.append(t, stream, 0, 3, "validation:created")
	s.append(t, stream, 3, 2, "validation:updated")

	events, err := s.store.GetEvents(s.ctx, stream, QueryAll())
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, event := range events {
		assert.EqualValues(t, i+1, event.Sequence)
	}

	latest, err := s.store.GetLatestSequence(s.ctx, stream, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 5, latest)
}

func (s *StoreValidationSuite) RejectsStaleCommit(t *testing.T) {
	stream := s.MakeStream()
	s.append(t, stream, 0, 2, "validation:created")

	stale := s.MakeEvents(stream, 0, 1, "validation:updated")
	err := s.store.Commit(s.ctx, Commit{
		StreamID:         stream,
		ExpectedSequence: 0,
		Events:           stale,
	})
	assert.True(t, IsSequenceConflict(err))
}

func (s *StoreValidationSuite) RejectedCommitIsAtomic(t *testing.T) {
	stream := s.MakeStream()
	aggregate := AggregateID("atomic-" + s.ids.NewID(time.Now()).String())
	s.append(t, stream, 0, 2, "validation:created")

	stale := s.MakeEvents(stream, 1, 1, "validation:updated")
	err := s.store.Commit(s.ctx, Commit{
		StreamID:         stream,
		ExpectedSequence: 1,
		Events:           stale,
		Snapshot: &SnapshotUpsert{
			IsNew: true,
			Record: SnapshotRecord{
				StreamID:            stream,
				AggregateID:         aggregate,
				AggregateType:       "validation:thing@1",
				Version:             1,
				LatestEventSequence: 2,
				State:               Data{Encoding: "application/json", Data: []byte(`{}`)},
				CreatedAt:           TimestampFromTime(time.Now()),
				UpdatedAt:           TimestampFromTime(time.Now()),
			},
		},
		Relationships: []RelationshipRecord{{
			AggregateID: aggregate,
			EventID:     stale[0].EventID,
			AppliedAt:   TimestampFromTime(time.Now()),
		}},
	})
	require.True(t, IsSequenceConflict(err))

	events, err := s.store.GetEvents(s.ctx, stream, QueryAll())
	require.NoError(t, err)
	assert.Len(t, events, 2)

	_, err = s.store.GetSnapshot(s.ctx, stream, aggregate)
	assert.ErrorIs(t, err, SnapshotNotFound)

	relationships, err := s.store.GetRelationships(s.ctx, aggregate)
	require.NoError(t, err)
	assert.Empty(t, relationships)
}

func (s *StoreValidationSuite) BoundsBySequence(t *testing.T) {
	stream := s.MakeStream()
	s.append(t, stream, 0, 5, "validation:created")

	events, err := s.store.GetEvents(s.ctx, stream, QueryBetweenSequences(2, 4))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.EqualValues(t, 2, events[0].Sequence)
	assert.EqualValues(t, 4, events[2].Sequence)
}

func (s *StoreValidationSuite) BoundsByDate(t *testing.T) {
	stream := s.MakeStream()
	saved := s.append(t, stream, 0, 5, "validation:created")

	cutoff, err := saved[2].CreatedAt.Time()
	require.NoError(t, err)

	events, err := s.store.GetEvents(s.ctx, stream, QueryUpToDate(cutoff))
	require.NoError(t, err)
	require.Len(t, events, 3)

	events, err = s.store.GetEvents(s.ctx, stream, QueryFromDate(cutoff))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.EqualValues(t, 3, events[0].Sequence)
}

func (s *StoreValidationSuite) FiltersByType(t *testing.T) {
	stream := s.MakeStream()
	s.append(t, stream, 0, 2, "validation:created")
	s.append(t, stream, 2, 3, "validation:updated")

	events, err := s.store.GetEvents(s.ctx, stream, QueryAll().WithTypes("validation:updated"))
	require.NoError(t, err)
	require.Len(t, events, 3)
	for _, event := range events {
		assert.EqualValues(t, "validation:updated", event.EventType)
	}
}

func (s *StoreValidationSuite) FetchesByID(t *testing.T) {
	stream := s.MakeStream()
	saved := s.append(t, stream, 0, 4, "validation:created")

	events, err := s.store.GetEventsByIDs(s.ctx, stream, []EventID{saved[1].EventID, saved[3].EventID})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.EqualValues(t, saved[1].EventID, events[0].EventID)
	assert.EqualValues(t, saved[3].EventID, events[1].EventID)
}

func (s *StoreValidationSuite) FiltersLatestByType(t *testing.T) {
	stream := s.MakeStream()
	s.append(t, stream, 0, 2, "validation:created")
	s.append(t, stream, 2, 1, "validation:updated")
	s.append(t, stream, 3, 1, "validation:created")

	latest, err := s.store.GetLatestSequence(s.ctx, stream, []EventType{"validation:updated"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, latest)

	latest, err = s.store.GetLatestSequence(s.ctx, stream, []EventType{"validation:removed"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, latest)
}

func (s *StoreValidationSuite) SnapshotRoundTrip(t *testing.T) {
	stream := s.MakeStream()
	aggregate := AggregateID("roundtrip-" + s.ids.NewID(time.Now()).String())

	record := SnapshotRecord{
		StreamID:            stream,
		AggregateID:         aggregate,
		AggregateType:       "validation:thing@1",
		Version:             3,
		LatestEventSequence: 7,
		State:               Data{Encoding: "application/json", Data: []byte(`{"name":"x"}`)},
		CreatedAt:           TimestampFromTime(time.Now()),
		CreatedBy:           "tester",
		UpdatedAt:           TimestampFromTime(time.Now()),
		UpdatedBy:           "tester",
	}
	require.NoError(t, s.store.PutSnapshot(s.ctx, record, true))

	loaded, err := s.store.GetSnapshot(s.ctx, stream, aggregate)
	require.NoError(t, err)
	assert.Equal(t, record, *loaded)

	record.Version = 4
	record.LatestEventSequence = 9
	require.NoError(t, s.store.PutSnapshot(s.ctx, record, false))

	loaded, err = s.store.GetSnapshot(s.ctx, stream, aggregate)
	require.NoError(t, err)
	assert.EqualValues(t, 4, loaded.Version)
	assert.EqualValues(t, 9, loaded.LatestEventSequence)
}

func (s *StoreValidationSuite) MissingSnapshot(t *testing.T) {
	_, err := s.store.GetSnapshot(s.ctx, s.MakeStream(), "nobody")
	assert.ErrorIs(t, err, SnapshotNotFound)
}

// ReplayedRelationships covers racing catch-ups: two snapshot-only commits
// may both carry a record for the same event, and the second must not fail
// the commit or duplicate the ledger entry.
func (s *StoreValidationSuite) ReplayedRelationships(t *testing.T) {
	stream := s.MakeStream()
	aggregate := AggregateID("replay-" + s.ids.NewID(time.Now()).String())
	saved := s.append(t, stream, 0, 1, "validation:created")

	base := time.Now()
	for _, appliedAt := range []time.Time{base, base.Add(time.Second)} {
		err := s.store.Commit(s.ctx, Commit{
			StreamID: stream,
			Relationships: []RelationshipRecord{{
				AggregateID: aggregate,
				EventID:     saved[0].EventID,
				AppliedAt:   TimestampFromTime(appliedAt),
			}},
		})
		require.NoError(t, err)
	}

	records, err := s.store.GetRelationships(s.ctx, aggregate)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.EqualValues(t, saved[0].EventID, records[0].EventID)
}

func (s *StoreValidationSuite) OrdersRelationships(t *testing.T) {
	stream := s.MakeStream()
	aggregate := AggregateID("ledger-" + s.ids.NewID(time.Now()).String())
	saved := s.append(t, stream, 0, 3, "validation:created")

	// A whole-second instant next to a sub-second one in the same second:
	// string order would put the fractional timestamp first.
	base := time.Now().Truncate(time.Second)
	err := s.store.Commit(s.ctx, Commit{
		StreamID: stream,
		Relationships: []RelationshipRecord{
			{AggregateID: aggregate, EventID: saved[2].EventID, AppliedAt: TimestampFromTime(base.Add(2 * time.Second))},
			{AggregateID: aggregate, EventID: saved[0].EventID, AppliedAt: TimestampFromTime(base)},
			{AggregateID: aggregate, EventID: saved[1].EventID, AppliedAt: TimestampFromTime(base.Add(500 * time.Millisecond))},
		},
	})
	require.NoError(t, err)

	records, err := s.store.GetRelationships(s.ctx, aggregate)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.EqualValues(t, saved[0].EventID, records[0].EventID)
	assert.EqualValues(t, saved[1].EventID, records[1].EventID)
	assert.EqualValues(t, saved[2].EventID, records[2].EventID)
}
