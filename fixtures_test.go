package es_test

import (
	"time"

	es "github.com/harborview/eventsource-go"
	"github.com/harborview/eventsource-go/memory"
)

// The fixture domain is a board of "things" with free-form notes. Two
// projections consume the same stream: Thing tracks create/rename, Notebook
// tracks create/note with a filter overlapping Thing's on thing-created.

type Thing struct {
	Name string `json:"name"`
}

type Notebook struct {
	Subject string   `json:"subject"`
	Entries []string `json:"entries"`
}

type ThingCreated struct {
	Name string `json:"name"`
}

type ThingRenamed struct {
	Name string `json:"name"`
}

type NoteAdded struct {
	Text string `json:"text"`
}

const (
	ThingCreatedEvent es.EventType = "things:thing-created@1"
	ThingRenamedEvent es.EventType = "things:thing-renamed@1"
	NoteAddedEvent    es.EventType = "things:note-added@1"

	ThingType    es.TypeName = "things:thing@1"
	NotebookType es.TypeName = "things:notebook@1"
)

func newRegistry() *es.TypeRegistry {
	registry, _ := es.NewRegistryBuilder().
		Register(es.TypeName(ThingCreatedEvent), ThingCreated{}).
		Register(es.TypeName(ThingRenamedEvent), ThingRenamed{}).
		Register(es.TypeName(NoteAddedEvent), NoteAdded{}).
		Register(ThingType, Thing{}).
		Register(NotebookType, Notebook{}).
		Build()

	return registry
}

func thingProjection() es.Projection[Thing] {
	return es.Projection[Thing]{
		Name: ThingType,
		Reducers: es.Reducers[Thing]{
			ThingCreatedEvent: es.ReducerFunction[Thing, ThingCreated](func(state *Thing, evt *ThingCreated) error {
				state.Name = evt.Name
				return nil
			}),
			ThingRenamedEvent: es.ReducerFunction[Thing, ThingRenamed](func(state *Thing, evt *ThingRenamed) error {
				state.Name = evt.Name
				return nil
			}),
		},
	}
}

func notebookProjection() es.Projection[Notebook] {
	return es.Projection[Notebook]{
		Name: NotebookType,
		Reducers: es.Reducers[Notebook]{
			ThingCreatedEvent: es.ReducerFunction[Notebook, ThingCreated](func(state *Notebook, evt *ThingCreated) error {
				state.Subject = evt.Name
				return nil
			}),
			NoteAddedEvent: es.ReducerFunction[Notebook, NoteAdded](func(state *Notebook, evt *NoteAdded) error {
				state.Entries = append(state.Entries, evt.Text)
				return nil
			}),
		},
	}
}

// steppingClock hands out strictly increasing instants so audit fields are
// distinguishable in assertions.
type steppingClock struct {
	at time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{at: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.at = c.at.Add(time.Second)
	return c.at
}

type harness struct {
	store   *memory.Store
	streams *es.StreamService
	things  *es.AggregateService[Thing]
	notes   *es.AggregateService[Notebook]
	clock   *steppingClock
}

func newHarness() *harness {
	store := memory.NewStore()
	clock := newSteppingClock()
	streams := es.NewStreamService(store, newRegistry(), es.WithClock(clock))

	return &harness{
		store:   store,
		streams: streams,
		things:  es.NewAggregateService(streams, thingProjection()),
		notes:   es.NewAggregateService(streams, notebookProjection()),
		clock:   clock,
	}
}
