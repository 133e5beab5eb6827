package es

import "errors"

// SequenceConflict reports that a save's expected sequence did not match the
// stream's actual latest sequence. The caller re-reads and retries; the
// library never retries internally.
var SequenceConflict = errors.New("sequence-conflict")

// SnapshotNotFound reports that no snapshot exists for an aggregate instance.
var SnapshotNotFound = errors.New("snapshot-not-found")

// AggregateNotFound reports that neither a snapshot nor any filter-matching
// event exists for an aggregate instance. It is an outcome, not a failure.
var AggregateNotFound = errors.New("aggregate-not-found")

func IsSequenceConflict(err error) bool {
	return errors.Is(err, SequenceConflict)
}

func IsNotFound(err error) bool {
	return errors.Is(err, SnapshotNotFound) || errors.Is(err, AggregateNotFound)
}
