package es

import "sort"

// Reducer folds one recorded event into an aggregate's business state. The
// codec is the one the owning service encodes with, so payloads round-trip
// through the same envelope.
type Reducer[T any] interface {
	Reduce(codec EventCodec, state *T, evt *RecordedEvent) error
}

// ReducerFunction adapts a typed reducer over a concrete event payload.
type ReducerFunction[T any, E any] func(state *T, evt *E) error

func (f ReducerFunction[T, E]) Reduce(codec EventCodec, state *T, evt *RecordedEvent) error {
	var event E
	if err := codec.Decode(evt.Data, &event); err != nil {
		return err
	}

	return f(state, &event)
}

type Reducers[T any] map[EventType]Reducer[T]

// Projection describes an aggregate type: its registered name and the
// reducers for the event types it knows how to apply. The reducer keys are
// the aggregate's event type filter.
type Projection[T any] struct {
	Name     TypeName
	Reducers Reducers[T]
}

// Filter returns the event types this projection applies, sorted for
// deterministic store pushdown.
func (p *Projection[T]) Filter() []EventType {
	types := make([]EventType, 0, len(p.Reducers))
	for t := range p.Reducers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}

// Aggregate is the runtime state of one projection instance over a stream.
//
// Version counts the filter-matching events this instance has applied.
// LatestEventSequence is a stream-global position: it is always at least the
// sequence of the last applied event and only ever advances, letting an
// aggregate skip past events outside its filter without re-fetching them.
type Aggregate[T any] struct {
	StreamID            StreamID
	AggregateID         AggregateID
	Version             int64
	LatestEventSequence int64
	State               *T

	uncommitted []DomainEvent
}

func NewAggregate[T any](stream StreamID, id AggregateID) *Aggregate[T] {
	var state T
	return &Aggregate[T]{
		StreamID:    stream,
		AggregateID: id,
		State:       &state,
	}
}

func (a *Aggregate[T]) Initialized() bool {
	return a.Version > 0
}

// Raise records events produced by the aggregate for the next save. Raising
// does not advance Version; versions are assigned when the events persist.
func (a *Aggregate[T]) Raise(events ...DomainEvent) {
	a.uncommitted = append(a.uncommitted, events...)
}

func (a *Aggregate[T]) UncommittedEvents() []DomainEvent {
	return a.uncommitted
}

func (a *Aggregate[T]) clearUncommitted() {
	a.uncommitted = nil
}
