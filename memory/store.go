package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	es "github.com/harborview/eventsource-go"
)

// Store is an in-process implementation of the store port, used by the core
// tests and as a reference for provider semantics. Commits are atomic under
// a single mutex; reads work on copies and never block writers beyond the
// map access itself.
type Store struct {
	lk            sync.RWMutex
	events        map[es.StreamID][]es.RecordedEvent
	snapshots     map[es.EncodedSnapshotKey]es.SnapshotRecord
	relationships map[es.AggregateID][]es.RelationshipRecord
}

func NewStore() *Store {
	return &Store{
		events:        make(map[es.StreamID][]es.RecordedEvent),
		snapshots:     make(map[es.EncodedSnapshotKey]es.SnapshotRecord),
		relationships: make(map[es.AggregateID][]es.RelationshipRecord),
	}
}

func (s *Store) GetSnapshot(ctx context.Context, stream es.StreamID, aggregate es.AggregateID) (*es.SnapshotRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.lk.RLock()
	defer s.lk.RUnlock()

	key := es.SnapshotKey{Stream: stream, Aggregate: aggregate}.Encode()
	record, ok := s.snapshots[key]
	if !ok {
		return nil, es.SnapshotNotFound
	}

	copied := record
	return &copied, nil
}

func (s *Store) PutSnapshot(ctx context.Context, snapshot es.SnapshotRecord, isNew bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.lk.Lock()
	defer s.lk.Unlock()

	return s.putSnapshotLocked(snapshot, isNew)
}

func (s *Store) putSnapshotLocked(snapshot es.SnapshotRecord, isNew bool) error {
	key := es.SnapshotKey{Stream: snapshot.StreamID, Aggregate: snapshot.AggregateID}.Encode()
	if _, exists := s.snapshots[key]; exists && isNew {
		return errors.Errorf("snapshot %s already exists", key)
	}

	s.snapshots[key] = snapshot
	return nil
}

func (s *Store) GetEvents(ctx context.Context, stream es.StreamID, query es.EventQuery) ([]es.RecordedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.lk.RLock()
	defer s.lk.RUnlock()

	var matched []es.RecordedEvent
	for _, event := range s.events[stream] {
		if query.Matches(&event) {
			matched = append(matched, event)
		}
	}

	return matched, nil
}

func (s *Store) GetEventsByIDs(ctx context.Context, stream es.StreamID, ids []es.EventID) ([]es.RecordedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wanted := make(map[es.EventID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	s.lk.RLock()
	defer s.lk.RUnlock()

	var matched []es.RecordedEvent
	for _, event := range s.events[stream] {
		if wanted[event.EventID] {
			matched = append(matched, event)
		}
	}

	return matched, nil
}

func (s *Store) GetLatestSequence(ctx context.Context, stream es.StreamID, types []es.EventType) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.lk.RLock()
	defer s.lk.RUnlock()

	return s.latestLocked(stream, types), nil
}

func (s *Store) latestLocked(stream es.StreamID, types []es.EventType) int64 {
	events := s.events[stream]
	if len(types) == 0 {
		if len(events) == 0 {
			return 0
		}
		return events[len(events)-1].Sequence
	}

	query := es.QueryAll().WithTypes(types...)
	for i := len(events) - 1; i >= 0; i-- {
		if query.Matches(&events[i]) {
			return events[i].Sequence
		}
	}

	return 0
}

// Commit applies the whole unit under the write lock. Cancellation is
// checked on entry only; once the unit starts applying it completes.
func (s *Store) Commit(ctx context.Context, commit es.Commit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.lk.Lock()
	defer s.lk.Unlock()

	if len(commit.Events) > 0 {
		latest := s.latestLocked(commit.StreamID, nil)
		if latest != commit.ExpectedSequence {
			return es.SequenceConflict
		}
	}

	if commit.Snapshot != nil {
		if err := s.putSnapshotLocked(commit.Snapshot.Record, commit.Snapshot.IsNew); err != nil {
			return err
		}
	}

	s.events[commit.StreamID] = append(s.events[commit.StreamID], commit.Events...)

	for _, record := range commit.Relationships {
		if s.hasRelationshipLocked(record.AggregateID, record.EventID) {
			continue
		}
		s.relationships[record.AggregateID] = append(s.relationships[record.AggregateID], record)
	}

	return nil
}

func (s *Store) hasRelationshipLocked(aggregate es.AggregateID, event es.EventID) bool {
	for _, record := range s.relationships[aggregate] {
		if record.EventID == event {
			return true
		}
	}
	return false
}

func (s *Store) GetRelationships(ctx context.Context, aggregate es.AggregateID) ([]es.RelationshipRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.lk.RLock()
	defer s.lk.RUnlock()

	records := make([]es.RelationshipRecord, len(s.relationships[aggregate]))
	copy(records, s.relationships[aggregate])

	// Timestamps with whole seconds drop the fractional part, so string
	// order disagrees with time order; compare parsed instants.
	sort.SliceStable(records, func(i, j int) bool {
		left, leftErr := records[i].AppliedAt.Time()
		right, rightErr := records[j].AppliedAt.Time()
		if leftErr != nil || rightErr != nil {
			return records[i].AppliedAt < records[j].AppliedAt
		}
		return left.Before(right)
	})

	return records, nil
}
