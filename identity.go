package es

import (
	"errors"
	"strings"
)

// StreamID identifies a stream, the unit of event ordering and of
// optimistic concurrency.
type StreamID string

func (id StreamID) String() string {
	return string(id)
}

// AggregateID identifies a single aggregate instance within a stream. Several
// aggregates, including aggregates of different types, may project the same
// stream independently.
type AggregateID string

func (id AggregateID) String() string {
	return string(id)
}

// ActorID identifies the principal responsible for a write. Optional.
type ActorID string

func (id ActorID) String() string {
	return string(id)
}

// SnapshotKey addresses the persisted snapshot of one aggregate instance.
type SnapshotKey struct {
	Stream    StreamID    `json:"stream"`
	Aggregate AggregateID `json:"aggregate"`
}

type EncodedSnapshotKey string

func (k SnapshotKey) Encode() EncodedSnapshotKey {
	return EncodedSnapshotKey(strings.Join([]string{k.Stream.String(), k.Aggregate.String()}, "."))
}

func (k EncodedSnapshotKey) String() string {
	return string(k)
}

func (k EncodedSnapshotKey) Decode() (*SnapshotKey, error) {
	separated := strings.Split(string(k), ".")
	if len(separated) < 2 {
		return nil, errors.New("expected . delimiter in snapshot key")
	}

	return &SnapshotKey{
		Stream:    StreamID(separated[0]),
		Aggregate: AggregateID(strings.Join(separated[1:], ".")),
	}, nil
}
