package es

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventID string

func (id EventID) String() string {
	return string(id)
}

// EventType is the stable, versioned textual name of an event type,
// for example "tasklist:task-created@1".
type EventType string

func (et EventType) String() string {
	return string(et)
}

// DomainEvent is business data produced by an aggregate and not yet encoded.
type DomainEvent any

// Data is an encoded payload together with its encoding.
type Data struct {
	Encoding string `json:"encoding"`
	Data     []byte `json:"data"`
}

// RecordedEvent is an immutable, durable event. Sequence numbers within a
// stream form a contiguous ascending series starting at 1.
type RecordedEvent struct {
	EventID   EventID   `json:"id"`
	StreamID  StreamID  `json:"stream"`
	Sequence  int64     `json:"sequence"`
	EventType EventType `json:"type"`
	Data      Data      `json:"data"`
	CreatedAt Timestamp `json:"createdAt"`
	CreatedBy ActorID   `json:"createdBy,omitempty"`
}

// EventIDGenerator mints monotonic ULIDs so that ids sort in mint order
// within a process.
type EventIDGenerator struct {
	lk      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewEventIDGenerator() *EventIDGenerator {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)

	return &EventIDGenerator{
		entropy: entropy,
	}
}

func (g *EventIDGenerator) NewID(t time.Time) EventID {
	g.lk.Lock()
	defer g.lk.Unlock()

	return EventID(ulid.MustNew(ulid.Timestamp(t), g.entropy).String())
}
