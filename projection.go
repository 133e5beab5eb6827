package es

import (
	"fmt"

	"github.com/pkg/errors"
)

// ApplyEvents folds events, in ascending sequence order, into the aggregate.
// Payloads decode through codec, the same codec the owning service records
// with.
//
// Events outside the projection's filter are skipped without touching
// business state or Version; callers are expected to pre-filter where the
// store supports pushdown, but unfiltered input is tolerated. Whether or not
// an event matched, LatestEventSequence advances to the highest input
// sequence. Pure apart from the aggregate mutation: no I/O, and the only
// failure is a payload that will not decode or reduce.
//
// The returned slice holds the events that were actually applied, in order.
func ApplyEvents[T any](codec EventCodec, p *Projection[T], aggregate *Aggregate[T], events []RecordedEvent) ([]RecordedEvent, error) {
	applied := make([]RecordedEvent, 0, len(events))

	for _, event := range events {
		if event.Sequence > aggregate.LatestEventSequence {
			aggregate.LatestEventSequence = event.Sequence
		}

		reducer := p.Reducers[event.EventType]
		if reducer == nil {
			continue
		}

		if err := reducer.Reduce(codec, aggregate.State, &event); err != nil {
			return applied, errors.Wrap(
				err,
				fmt.Sprintf("failed to apply %s at sequence %d", event.EventType, event.Sequence),
			)
		}

		aggregate.Version++
		applied = append(applied, event)
	}

	return applied, nil
}
