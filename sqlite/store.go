package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	es "github.com/harborview/eventsource-go"
)

// Store is the relational provider. Atomicity comes from a single
// transaction per commit; the expected-sequence check runs inside that
// transaction against MAX(sequence), with the (stream_id, sequence) primary
// key as a backstop against racing writers.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	stream_id  TEXT    NOT NULL,
	sequence   INTEGER NOT NULL,
	event_id   TEXT    NOT NULL UNIQUE,
	event_type TEXT    NOT NULL,
	encoding   TEXT    NOT NULL,
	payload    BLOB    NOT NULL,
	created_at TEXT    NOT NULL,
	created_by TEXT    NOT NULL DEFAULT '',
	created_ms INTEGER NOT NULL,
	PRIMARY KEY (stream_id, sequence)
);

CREATE TABLE IF NOT EXISTS snapshots (
	stream_id       TEXT    NOT NULL,
	aggregate_id    TEXT    NOT NULL,
	aggregate_type  TEXT    NOT NULL,
	version         INTEGER NOT NULL,
	latest_sequence INTEGER NOT NULL,
	encoding        TEXT    NOT NULL,
	state           BLOB    NOT NULL,
	created_at      TEXT    NOT NULL,
	created_by      TEXT    NOT NULL DEFAULT '',
	updated_at      TEXT    NOT NULL,
	updated_by      TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (stream_id, aggregate_id)
);

CREATE TABLE IF NOT EXISTS relationships (
	aggregate_id TEXT    NOT NULL,
	event_id     TEXT    NOT NULL,
	applied_at   TEXT    NOT NULL,
	applied_ms   INTEGER NOT NULL,
	PRIMARY KEY (aggregate_id, event_id)
);

CREATE INDEX IF NOT EXISTS relationships_by_applied
	ON relationships (aggregate_id, applied_ms);
`

// Open connects, applies the schema, and returns a ready store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to apply schema")
	}

	return &Store{db: db}, nil
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetSnapshot(ctx context.Context, stream es.StreamID, aggregate es.AggregateID) (*es.SnapshotRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT aggregate_type, version, latest_sequence, encoding, state,
		       created_at, created_by, updated_at, updated_by
		FROM snapshots WHERE stream_id = ? AND aggregate_id = ?`,
		stream.String(), aggregate.String())

	record := es.SnapshotRecord{StreamID: stream, AggregateID: aggregate}
	err := row.Scan(
		&record.AggregateType, &record.Version, &record.LatestEventSequence,
		&record.State.Encoding, &record.State.Data,
		&record.CreatedAt, &record.CreatedBy, &record.UpdatedAt, &record.UpdatedBy,
	)
	if err == sql.ErrNoRows {
		return nil, es.SnapshotNotFound
	}
	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (s *Store) PutSnapshot(ctx context.Context, snapshot es.SnapshotRecord, isNew bool) error {
	return putSnapshot(ctx, s.db, snapshot, isNew)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putSnapshot(ctx context.Context, db execer, snapshot es.SnapshotRecord, isNew bool) error {
	statement := `
		INSERT INTO snapshots
			(stream_id, aggregate_id, aggregate_type, version, latest_sequence,
			 encoding, state, created_at, created_by, updated_at, updated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if !isNew {
		statement += `
		ON CONFLICT (stream_id, aggregate_id) DO UPDATE SET
			aggregate_type = excluded.aggregate_type,
			version = excluded.version,
			latest_sequence = excluded.latest_sequence,
			encoding = excluded.encoding,
			state = excluded.state,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by`
	}

	_, err := db.ExecContext(ctx, statement,
		snapshot.StreamID.String(), snapshot.AggregateID.String(),
		snapshot.AggregateType.String(), snapshot.Version, snapshot.LatestEventSequence,
		snapshot.State.Encoding, snapshot.State.Data,
		snapshot.CreatedAt.String(), snapshot.CreatedBy.String(),
		snapshot.UpdatedAt.String(), snapshot.UpdatedBy.String(),
	)

	return err
}

func (s *Store) GetEvents(ctx context.Context, stream es.StreamID, query es.EventQuery) ([]es.RecordedEvent, error) {
	statement := strings.Builder{}
	statement.WriteString(`
		SELECT event_id, sequence, event_type, encoding, payload, created_at, created_by
		FROM events WHERE stream_id = ?`)
	args := []any{stream.String()}

	if query.FromSequence > 0 {
		statement.WriteString(" AND sequence >= ?")
		args = append(args, query.FromSequence)
	}
	if query.ToSequence > 0 {
		statement.WriteString(" AND sequence <= ?")
		args = append(args, query.ToSequence)
	}
	if query.FromDate != nil {
		statement.WriteString(" AND created_ms >= ?")
		args = append(args, query.FromDate.UnixMilli())
	}
	if query.ToDate != nil {
		statement.WriteString(" AND created_ms <= ?")
		args = append(args, query.ToDate.UnixMilli())
	}
	if len(query.Types) > 0 {
		statement.WriteString(" AND event_type IN (?" + strings.Repeat(", ?", len(query.Types)-1) + ")")
		for _, t := range query.Types {
			args = append(args, t.String())
		}
	}
	statement.WriteString(" ORDER BY sequence ASC")

	return s.queryEvents(ctx, stream, statement.String(), args...)
}

func (s *Store) GetEventsByIDs(ctx context.Context, stream es.StreamID, ids []es.EventID) ([]es.RecordedEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	statement := `
		SELECT event_id, sequence, event_type, encoding, payload, created_at, created_by
		FROM events WHERE stream_id = ?
		AND event_id IN (?` + strings.Repeat(", ?", len(ids)-1) + `)
		ORDER BY sequence ASC`

	args := make([]any, 0, len(ids)+1)
	args = append(args, stream.String())
	for _, id := range ids {
		args = append(args, id.String())
	}

	return s.queryEvents(ctx, stream, statement, args...)
}

func (s *Store) queryEvents(ctx context.Context, stream es.StreamID, statement string, args ...any) ([]es.RecordedEvent, error) {
	rows, err := s.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []es.RecordedEvent
	for rows.Next() {
		event := es.RecordedEvent{StreamID: stream}
		err := rows.Scan(
			&event.EventID, &event.Sequence, &event.EventType,
			&event.Data.Encoding, &event.Data.Data,
			&event.CreatedAt, &event.CreatedBy,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

func (s *Store) GetLatestSequence(ctx context.Context, stream es.StreamID, types []es.EventType) (int64, error) {
	statement := strings.Builder{}
	statement.WriteString("SELECT COALESCE(MAX(sequence), 0) FROM events WHERE stream_id = ?")
	args := []any{stream.String()}

	if len(types) > 0 {
		statement.WriteString(" AND event_type IN (?" + strings.Repeat(", ?", len(types)-1) + ")")
		for _, t := range types {
			args = append(args, t.String())
		}
	}

	var latest int64
	if err := s.db.QueryRowContext(ctx, statement.String(), args...).Scan(&latest); err != nil {
		return 0, err
	}

	return latest, nil
}

// Commit runs the whole unit in one transaction. Cancellation is honored up
// to BeginTx; the statements inside run to completion or roll back together.
func (s *Store) Commit(ctx context.Context, commit es.Commit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	detached := context.WithoutCancel(ctx)

	if len(commit.Events) > 0 {
		var latest int64
		err := tx.QueryRowContext(detached,
			"SELECT COALESCE(MAX(sequence), 0) FROM events WHERE stream_id = ?",
			commit.StreamID.String()).Scan(&latest)
		if err != nil {
			return err
		}
		if latest != commit.ExpectedSequence {
			return es.SequenceConflict
		}

		for i := range commit.Events {
			event := &commit.Events[i]
			created, err := event.CreatedAt.Time()
			if err != nil {
				return errors.Wrap(err, "malformed event timestamp")
			}

			_, err = tx.ExecContext(detached, `
				INSERT INTO events
					(stream_id, sequence, event_id, event_type, encoding, payload,
					 created_at, created_by, created_ms)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				event.StreamID.String(), event.Sequence, event.EventID.String(),
				event.EventType.String(), event.Data.Encoding, event.Data.Data,
				event.CreatedAt.String(), event.CreatedBy.String(), created.UnixMilli(),
			)
			if err != nil {
				return err
			}
		}
	}

	if commit.Snapshot != nil {
		if err := putSnapshot(detached, tx, commit.Snapshot.Record, commit.Snapshot.IsNew); err != nil {
			return err
		}
	}

	for _, record := range commit.Relationships {
		applied, err := record.AppliedAt.Time()
		if err != nil {
			return errors.Wrap(err, "malformed relationship timestamp")
		}

		_, err = tx.ExecContext(detached, `
			INSERT INTO relationships (aggregate_id, event_id, applied_at, applied_ms)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (aggregate_id, event_id) DO NOTHING`,
			record.AggregateID.String(), record.EventID.String(),
			record.AppliedAt.String(), applied.UnixMilli(),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) GetRelationships(ctx context.Context, aggregate es.AggregateID) ([]es.RelationshipRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, applied_at FROM relationships
		WHERE aggregate_id = ?
		ORDER BY applied_ms ASC, event_id ASC`,
		aggregate.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []es.RelationshipRecord
	for rows.Next() {
		record := es.RelationshipRecord{AggregateID: aggregate}
		if err := rows.Scan(&record.EventID, &record.AppliedAt); err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}
