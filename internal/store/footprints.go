// Package store persists post-processed fault footprints to SQLite so a
// recording survives the exporter process. Only resolved metadata is ever
// written; raw records and their handles stay in memory with the session.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"smra_exporter/internal/logger"
	"smra_exporter/internal/smra"

	"github.com/phuslu/log"
	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

const ddl = `
CREATE TABLE IF NOT EXISTS footprints (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id   INTEGER NOT NULL,
	pid        INTEGER NOT NULL,
	seq        INTEGER NOT NULL,
	path       TEXT    NOT NULL,
	page_offset INTEGER NOT NULL,
	fault_time INTEGER NOT NULL,
	deleted    INTEGER NOT NULL DEFAULT 0,
	truncated  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_footprints_pid ON footprints(pid, batch_id, seq);
`

// Store is a WAL-mode SQLite footprint archive. Safe for concurrent use;
// writes serialize through a single connection.
type Store struct {
	db  *sql.DB
	log log.Logger
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives an in-memory database, suitable for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}

	// SQLite allows one writer at a time; a single pooled connection
	// avoids "database is locked" errors under concurrent saves.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	return &Store{db: db, log: logger.New("footprint_store")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveBatch writes one post-processing result as a single transaction and
// returns the batch id. pids and footprints are parallel, as returned by
// the post-processor. Nothing is written if any insert fails.
func (s *Store) SaveBatch(ctx context.Context, pids []int32, footprints [][]smra.Metadata) (int64, error) {
	if len(pids) != len(footprints) {
		return 0, fmt.Errorf("store: %d pids for %d footprint lists", len(pids), len(footprints))
	}

	batchID := time.Now().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO footprints (batch_id, pid, seq, path, page_offset, fault_time, deleted, truncated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	rows := 0
	for i, pid := range pids {
		for seq, m := range footprints[i] {
			if _, err := stmt.ExecContext(ctx, batchID, pid, seq, m.Path, int64(m.Offset),
				m.Time.UnixNano(), boolInt(m.Deleted), boolInt(m.Truncated)); err != nil {
				return 0, fmt.Errorf("store: insert footprint pid %d seq %d: %w", pid, seq, err)
			}
			rows++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit batch: %w", err)
	}

	s.log.Info().Int64("batch_id", batchID).Int("rows", rows).Msg("Footprint batch saved")
	return batchID, nil
}

// Footprint is one persisted row.
type Footprint struct {
	BatchID   int64     `json:"batch_id"`
	PID       int32     `json:"pid"`
	Seq       int       `json:"seq"`
	Path      string    `json:"path"`
	Offset    uint64    `json:"offset"`
	Time      time.Time `json:"time"`
	Deleted   bool      `json:"deleted,omitempty"`
	Truncated bool      `json:"truncated,omitempty"`
}

// FootprintsByPID returns the stored footprints for pid, newest batch
// first, record order preserved within a batch. limit <= 0 means no limit.
func (s *Store) FootprintsByPID(ctx context.Context, pid int32, limit int) ([]Footprint, error) {
	q := `SELECT batch_id, pid, seq, path, page_offset, fault_time, deleted, truncated
		FROM footprints WHERE pid = ? ORDER BY batch_id DESC, seq ASC`
	args := []any{pid}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query footprints: %w", err)
	}
	defer rows.Close()

	var out []Footprint
	for rows.Next() {
		var fp Footprint
		var offset, faultTime int64
		var deleted, truncated int
		if err := rows.Scan(&fp.BatchID, &fp.PID, &fp.Seq, &fp.Path, &offset, &faultTime, &deleted, &truncated); err != nil {
			return nil, fmt.Errorf("store: scan footprint: %w", err)
		}
		fp.Offset = uint64(offset)
		fp.Time = time.Unix(0, faultTime)
		fp.Deleted = deleted != 0
		fp.Truncated = truncated != 0
		out = append(out, fp)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
