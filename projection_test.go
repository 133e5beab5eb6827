package es_test

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	es "github.com/harborview/eventsource-go"
)

func encode(t *testing.T, value any) es.Data {
	data, err := es.NewJSONEventCodec().Encode(value)
	require.NoError(t, err)
	return data
}

func recorded(t *testing.T, sequence int64, eventType es.EventType, payload any) es.RecordedEvent {
	return es.RecordedEvent{
		EventID:   es.EventID(fmt.Sprintf("evt-%d", sequence)),
		StreamID:  "board-1",
		Sequence:  sequence,
		EventType: eventType,
		Data:      encode(t, payload),
	}
}

func TestApplyEventsFoldsMatchingEvents(t *testing.T) {
	projection := thingProjection()
	aggregate := es.NewAggregate[Thing]("board-1", "thing-1")

	applied, err := es.ApplyEvents(es.NewJSONEventCodec(), &projection, aggregate, []es.RecordedEvent{
		recorded(t, 1, ThingCreatedEvent, ThingCreated{Name: "alpha"}),
		recorded(t, 2, ThingRenamedEvent, ThingRenamed{Name: "beta"}),
	})

	require.NoError(t, err)
	assert.Len(t, applied, 2)
	assert.EqualValues(t, 2, aggregate.Version)
	assert.EqualValues(t, 2, aggregate.LatestEventSequence)
	assert.Equal(t, "beta", aggregate.State.Name)
}

func TestApplyEventsSkipsUnfilteredEventsButAdvancesSequence(t *testing.T) {
	projection := thingProjection()
	aggregate := es.NewAggregate[Thing]("board-1", "thing-1")

	applied, err := es.ApplyEvents(es.NewJSONEventCodec(), &projection, aggregate, []es.RecordedEvent{
		recorded(t, 1, ThingCreatedEvent, ThingCreated{Name: "alpha"}),
		recorded(t, 2, NoteAddedEvent, NoteAdded{Text: "out of filter"}),
		recorded(t, 3, NoteAddedEvent, NoteAdded{Text: "also out"}),
	})

	require.NoError(t, err)
	assert.Len(t, applied, 1)
	assert.EqualValues(t, 1, aggregate.Version, "version counts filter matches only")
	assert.EqualValues(t, 3, aggregate.LatestEventSequence, "position covers skipped events")
	assert.Equal(t, "alpha", aggregate.State.Name)
}

func TestApplyEventsPropagatesDecodeFailures(t *testing.T) {
	projection := thingProjection()
	aggregate := es.NewAggregate[Thing]("board-1", "thing-1")

	_, err := es.ApplyEvents(es.NewJSONEventCodec(), &projection, aggregate, []es.RecordedEvent{
		{
			Sequence:  1,
			EventType: ThingCreatedEvent,
			Data:      es.Data{Encoding: "application/xml", Data: []byte("<nope/>")},
		},
	})

	assert.Error(t, err)
}

func TestApplyEventsInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	codec := es.NewJSONEventCodec()

	properties.Property("version counts matches, position covers everything", prop.ForAll(
		func(matchFlags []bool) bool {
			projection := thingProjection()
			aggregate := es.NewAggregate[Thing]("board-p", "thing-p")

			events := make([]es.RecordedEvent, len(matchFlags))
			matches := 0
			for i, matching := range matchFlags {
				eventType := NoteAddedEvent
				var payload any = NoteAdded{Text: "skip"}
				if matching {
					eventType = ThingRenamedEvent
					payload = ThingRenamed{Name: "kept"}
					matches++
				}
				data, err := codec.Encode(payload)
				if err != nil {
					return false
				}
				events[i] = es.RecordedEvent{
					Sequence:  int64(i) + 1,
					EventType: eventType,
					Data:      data,
				}
			}

			applied, err := es.ApplyEvents(codec, &projection, aggregate, events)
			if err != nil {
				return false
			}

			expectedLatest := int64(len(events))
			if len(events) == 0 {
				expectedLatest = 0
			}

			return len(applied) == matches &&
				aggregate.Version == int64(matches) &&
				aggregate.LatestEventSequence == expectedLatest
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
