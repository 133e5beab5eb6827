package es_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	es "github.com/harborview/eventsource-go"
	"github.com/harborview/eventsource-go/memory"
)

func TestSaveAggregateAssignsContiguousSequences(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	aggregate := es.NewAggregate[Thing]("board-1", "thing-1")
	aggregate.Raise(ThingCreated{Name: "alpha"}, ThingRenamed{Name: "beta"})

	saved, err := h.things.SaveAggregate(ctx, aggregate, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, saved.Version)
	assert.EqualValues(t, 2, saved.LatestEventSequence)
	assert.Empty(t, saved.UncommittedEvents(), "uncommitted events clear on success")

	saved.Raise(ThingRenamed{Name: "gamma"})
	saved, err = h.things.SaveAggregate(ctx, saved, saved.LatestEventSequence)
	require.NoError(t, err)
	assert.EqualValues(t, 3, saved.Version)

	events, err := h.streams.GetAllEvents(ctx, "board-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, event := range events {
		assert.EqualValues(t, i+1, event.Sequence, "sequences must be exactly 1..N")
	}
}

func TestSaveAggregateRejectsStaleExpectedSequence(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	first := es.NewAggregate[Thing]("board-1", "thing-1")
	first.Raise(ThingCreated{Name: "X"})
	first, err := h.things.SaveAggregate(ctx, first, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, first.Version)
	require.EqualValues(t, 1, first.LatestEventSequence)

	stale := es.NewAggregate[Thing]("board-1", "thing-1")
	stale.Raise(ThingRenamed{Name: "Y"})
	_, err = h.things.SaveAggregate(ctx, stale, 0)
	assert.True(t, es.IsSequenceConflict(err))

	events, err := h.streams.GetAllEvents(ctx, "board-1")
	require.NoError(t, err)
	assert.Len(t, events, 1, "the losing writer must not append")

	snapshot, err := h.store.GetSnapshot(ctx, "board-1", "thing-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, snapshot.Version, "the losing writer must not touch the snapshot")

	// Re-read and retry, the caller's responsibility.
	current, err := h.things.GetAggregate(ctx, "board-1", "thing-1", es.SnapshotWithNewEvents)
	require.NoError(t, err)
	current.Raise(ThingRenamed{Name: "Y"})
	current, err = h.things.SaveAggregate(ctx, current, current.LatestEventSequence)
	require.NoError(t, err)
	assert.EqualValues(t, 2, current.Version)

	read, err := h.things.GetAggregate(ctx, "board-1", "thing-1", es.SnapshotOnly)
	require.NoError(t, err)
	assert.Equal(t, "Y", read.State.Name)
	assert.EqualValues(t, 2, read.Version)
}

func TestSaveAggregatePreservesCreationAudit(t *testing.T) {
	h := newHarness()
	ctx := es.WithActor(context.Background(), "alice")

	aggregate := es.NewAggregate[Thing]("board-1", "thing-1")
	aggregate.Raise(ThingCreated{Name: "alpha"})
	aggregate, err := h.things.SaveAggregate(ctx, aggregate, 0)
	require.NoError(t, err)

	created, err := h.store.GetSnapshot(ctx, "board-1", "thing-1")
	require.NoError(t, err)
	assert.EqualValues(t, "alice", created.CreatedBy)
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	ctx = es.WithActor(context.Background(), "bob")
	aggregate.Raise(ThingRenamed{Name: "beta"})
	_, err = h.things.SaveAggregate(ctx, aggregate, 1)
	require.NoError(t, err)

	updated, err := h.store.GetSnapshot(ctx, "board-1", "thing-1")
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt, "creation audit is preserved on update")
	assert.EqualValues(t, "alice", updated.CreatedBy)
	assert.EqualValues(t, "bob", updated.UpdatedBy)
	assert.NotEqual(t, updated.CreatedAt, updated.UpdatedAt)
}

func TestSaveAggregateRequiresUncommittedEvents(t *testing.T) {
	h := newHarness()

	aggregate := es.NewAggregate[Thing]("board-1", "thing-1")
	_, err := h.things.SaveAggregate(context.Background(), aggregate, 0)
	assert.Error(t, err)
}

func TestSaveEventsWithoutAggregateAssociation(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	saved, err := h.streams.SaveEvents(ctx, "board-1", []es.DomainEvent{
		ThingCreated{Name: "alpha"},
		NoteAdded{Text: "raw"},
	}, 0)
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.EqualValues(t, 1, saved[0].Sequence)
	assert.EqualValues(t, 2, saved[1].Sequence)
	assert.EqualValues(t, ThingCreatedEvent, saved[0].EventType)

	_, err = h.streams.SaveEvents(ctx, "board-1", []es.DomainEvent{ThingRenamed{Name: "beta"}}, 0)
	assert.True(t, es.IsSequenceConflict(err))

	relationships, err := h.streams.GetEventsAppliedToAggregate(ctx, "thing-1")
	require.NoError(t, err)
	assert.Empty(t, relationships, "raw saves record no relationships")
}

func TestSaveEventsRejectsUnregisteredTypes(t *testing.T) {
	h := newHarness()

	type Unregistered struct{ V int }
	_, err := h.streams.SaveEvents(context.Background(), "board-1", []es.DomainEvent{Unregistered{V: 1}}, 0)

	var resolution *es.TypeResolutionError
	assert.ErrorAs(t, err, &resolution)

	latest, err := h.streams.GetLatestEventSequence(context.Background(), "board-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, latest, "no sequence is assigned when encoding fails")
}

func TestCrossAggregateSharingOfOneStream(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	// Aggregate A writes the stream.
	thing := es.NewAggregate[Thing]("board-1", "thing-1")
	thing.Raise(ThingCreated{Name: "alpha"})
	thing, err := h.things.SaveAggregate(ctx, thing, 0)
	require.NoError(t, err)

	_, err = h.streams.SaveEvents(ctx, "board-1", []es.DomainEvent{NoteAdded{Text: "hello"}}, thing.LatestEventSequence)
	require.NoError(t, err)

	// Aggregate B independently projects the same raw events.
	notebook, err := h.notes.UpdateAggregate(ctx, "board-1", "notebook-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, notebook.Version, "notebook applies created and note")
	assert.Equal(t, "alpha", notebook.State.Subject)

	thingApplied, err := h.streams.GetEventsAppliedToAggregate(ctx, "thing-1")
	require.NoError(t, err)
	notebookApplied, err := h.streams.GetEventsAppliedToAggregate(ctx, "notebook-1")
	require.NoError(t, err)

	require.Len(t, thingApplied, 1)
	require.Len(t, notebookApplied, 2)
	assert.Equal(t, thingApplied[0].EventID, notebookApplied[0].EventID,
		"both projections hold their own record for the shared event")
}

const taggedEncoding = "application/vnd.things+json"

// taggedCodec wraps the JSON codec under a different encoding tag, standing
// in for any non-default codec a service might be configured with.
type taggedCodec struct {
	inner es.JSONEventCodec
}

func (c taggedCodec) Encode(value any) (es.Data, error) {
	data, err := c.inner.Encode(value)
	if err != nil {
		return es.Data{}, err
	}
	data.Encoding = taggedEncoding
	return data, nil
}

func (c taggedCodec) Decode(data es.Data, value any) error {
	if data.Encoding != taggedEncoding {
		return es.InvalidEncoding(taggedEncoding, data.Encoding)
	}
	data.Encoding = "application/json"
	return c.inner.Decode(data, value)
}

func TestConfiguredCodecRoundTripsThroughReducers(t *testing.T) {
	store := memory.NewStore()
	streams := es.NewStreamService(store, newRegistry(), es.WithCodec(taggedCodec{}))
	things := es.NewAggregateService(streams, thingProjection())
	ctx := context.Background()

	aggregate := es.NewAggregate[Thing]("board-1", "thing-1")
	aggregate.Raise(ThingCreated{Name: "alpha"})
	saved, err := things.SaveAggregate(ctx, aggregate, 0)
	require.NoError(t, err)
	assert.Equal(t, "alpha", saved.State.Name)

	events, err := streams.GetAllEvents(ctx, "board-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, taggedEncoding, events[0].Data.Encoding)

	replayed, err := things.GetInMemoryAggregate(ctx, "board-1", "thing-1")
	require.NoError(t, err)
	assert.Equal(t, "alpha", replayed.State.Name)

	read, err := things.GetAggregate(ctx, "board-1", "thing-1", es.SnapshotOnly)
	require.NoError(t, err)
	assert.Equal(t, "alpha", read.State.Name)
}

func TestGetLatestEventSequenceWithFilter(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	seedStream(t, h, "board-1",
		ThingCreated{Name: "alpha"},
		NoteAdded{Text: "one"},
		ThingRenamed{Name: "beta"},
		NoteAdded{Text: "two"},
	)

	latest, err := h.streams.GetLatestEventSequence(ctx, "board-1")
	require.NoError(t, err)
	assert.EqualValues(t, 4, latest)

	latest, err = h.streams.GetLatestEventSequence(ctx, "board-1", ThingCreatedEvent, ThingRenamedEvent)
	require.NoError(t, err)
	assert.EqualValues(t, 3, latest)
}

func TestGetEventsByIDs(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	saved := seedStream(t, h, "board-1",
		ThingCreated{Name: "alpha"},
		ThingRenamed{Name: "beta"},
		ThingRenamed{Name: "gamma"},
	)

	events, err := h.streams.GetEventsByIDs(ctx, "board-1", []es.EventID{saved[0].EventID, saved[2].EventID})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, saved[0].EventID, events[0].EventID)
	assert.Equal(t, saved[2].EventID, events[1].EventID)
}
