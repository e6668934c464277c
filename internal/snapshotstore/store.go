// Package snapshotstore persists engine.Snapshot history to a SQLite
// database, keyed by job id and cycle number. It is optional: a job can
// run entirely in memory and only ever call engine.TakeSnapshot,
// marshaling the result itself; this package exists for the case where
// an operator wants a queryable history of every snapshot a long-lived
// job produced.
package snapshotstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kpernyer/converge/engine"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	job_id     TEXT NOT NULL,
	cycle      INTEGER NOT NULL,
	snapshot_id TEXT NOT NULL,
	taken_at   TEXT NOT NULL,
	version    INTEGER NOT NULL,
	body       BLOB NOT NULL,
	PRIMARY KEY (job_id, cycle)
);
CREATE INDEX IF NOT EXISTS snapshots_job_id_idx ON snapshots (job_id);
`

// Store is a SQLite-backed history of snapshots. The zero value is not
// usable; construct with Open.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite database at path and ensures
// its schema exists. path may be ":memory:" for a process-local store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate snapshot store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save records a snapshot taken at the given cycle boundary for jobID.
// A second Save for the same (jobID, cycle) pair overwrites the row —
// a job is expected to snapshot at most once per cycle boundary.
func (s *Store) Save(ctx context.Context, jobID string, cycle int, snap engine.Snapshot) error {
	body, err := snap.Marshal()
	if err != nil {
		return fmt.Errorf("marshal snapshot for job %s cycle %d: %w", jobID, cycle, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (job_id, cycle, snapshot_id, taken_at, version, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, cycle) DO UPDATE SET
			snapshot_id = excluded.snapshot_id,
			taken_at    = excluded.taken_at,
			version     = excluded.version,
			body        = excluded.body
	`, jobID, cycle, snap.ID, snap.TakenAt.Format(time.RFC3339Nano), snap.Version, body)
	if err != nil {
		return fmt.Errorf("save snapshot for job %s cycle %d: %w", jobID, cycle, err)
	}
	return nil
}

// Latest returns the most recent snapshot recorded for jobID, and false
// if none exists.
func (s *Store) Latest(ctx context.Context, jobID string) (engine.Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT body FROM snapshots
		WHERE job_id = ?
		ORDER BY cycle DESC
		LIMIT 1
	`, jobID)

	var body []byte
	if err := row.Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return engine.Snapshot{}, false, nil
		}
		return engine.Snapshot{}, false, fmt.Errorf("query latest snapshot for job %s: %w", jobID, err)
	}
	snap, err := engine.UnmarshalSnapshot(body)
	if err != nil {
		return engine.Snapshot{}, false, fmt.Errorf("unmarshal latest snapshot for job %s: %w", jobID, err)
	}
	return snap, true, nil
}

// At returns the snapshot recorded for jobID at exactly cycle, and
// false if none was taken there.
func (s *Store) At(ctx context.Context, jobID string, cycle int) (engine.Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT body FROM snapshots WHERE job_id = ? AND cycle = ?
	`, jobID, cycle)

	var body []byte
	if err := row.Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return engine.Snapshot{}, false, nil
		}
		return engine.Snapshot{}, false, fmt.Errorf("query snapshot for job %s cycle %d: %w", jobID, cycle, err)
	}
	snap, err := engine.UnmarshalSnapshot(body)
	if err != nil {
		return engine.Snapshot{}, false, fmt.Errorf("unmarshal snapshot for job %s cycle %d: %w", jobID, cycle, err)
	}
	return snap, true, nil
}

// Cycles returns every cycle number recorded for jobID, ascending.
func (s *Store) Cycles(ctx context.Context, jobID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cycle FROM snapshots WHERE job_id = ? ORDER BY cycle ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query cycles for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var cycles []int
	for rows.Next() {
		var c int
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan cycle for job %s: %w", jobID, err)
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}
