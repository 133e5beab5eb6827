package es

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const tracerName = "eventsource"

// StreamService exposes the untyped event-log operations of a store: range
// reads, latest-sequence lookup, the relationship ledger, and raw event
// saves. Typed reconciliation lives on AggregateService.
type StreamService struct {
	store    Store
	registry *TypeRegistry
	codec    EventCodec
	ids      *EventIDGenerator
	clock    Clock
	actors   ActorProvider
	log      zerolog.Logger
}

type StreamOption func(service *StreamService)

func WithCodec(codec EventCodec) StreamOption {
	return func(service *StreamService) {
		service.codec = codec
	}
}

func WithClock(clock Clock) StreamOption {
	return func(service *StreamService) {
		service.clock = clock
	}
}

func WithActorProvider(actors ActorProvider) StreamOption {
	return func(service *StreamService) {
		service.actors = actors
	}
}

func WithIDGenerator(ids *EventIDGenerator) StreamOption {
	return func(service *StreamService) {
		service.ids = ids
	}
}

func WithLogger(log zerolog.Logger) StreamOption {
	return func(service *StreamService) {
		service.log = log
	}
}

func NewStreamService(store Store, registry *TypeRegistry, options ...StreamOption) *StreamService {
	service := &StreamService{
		store:    store,
		registry: registry,
		codec:    NewJSONEventCodec(),
		ids:      NewEventIDGenerator(),
		clock:    SystemClock(),
		actors:   ContextActorProvider{},
		log:      log.Logger,
	}

	for _, option := range options {
		option(service)
	}

	return service
}

// AggregateService reconciles and saves one projection type against a stream
// service's store.
type AggregateService[T any] struct {
	streams    *StreamService
	projection Projection[T]
}

func NewAggregateService[T any](streams *StreamService, projection Projection[T]) *AggregateService[T] {
	return &AggregateService[T]{
		streams:    streams,
		projection: projection,
	}
}
