// Package runindex maintains a derived SQLite cache of run metadata
// (domain §4.L) so status/log lookups across a long project history don't
// require re-walking every "runs/<id>/manifest.json" on disk.
package runindex

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sipeed/specloom/pkg/domain"
)

// RunRecord is one row of the index: a cached summary of a single message's
// run, kept synchronized with "runs/<id>/" by the Pipeline Executor.
type RunRecord struct {
	ID        string
	Chain     string
	Seq       uint32
	Routine   string
	Status    domain.RunStatus
	Attempts  int
	StartedAt time.Time
	EndedAt   *time.Time
}

// Index is a handle to the run index database at ".decree/index.db".
type Index struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if absent) the SQLite index at path and ensures its
// schema exists.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("runindex: open %s: %w", path, err)
	}
	idx := &Index{db: db}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("runindex: init schema: %w", err)
	}
	return idx, nil
}

func (idx *Index) Close() error {
	return idx.db.Close()
}

func (idx *Index) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		chain TEXT NOT NULL,
		seq INTEGER NOT NULL,
		routine TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		ended_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_chain ON runs(chain, seq);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := idx.db.Exec(schema)
	return err
}

// Upsert inserts or replaces r's row, keyed by r.ID.
func (idx *Index) Upsert(r RunRecord) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, err := idx.db.Exec(`
		INSERT INTO runs (id, chain, seq, routine, status, attempts, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			chain = excluded.chain,
			seq = excluded.seq,
			routine = excluded.routine,
			status = excluded.status,
			attempts = excluded.attempts,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at`,
		r.ID, r.Chain, r.Seq, r.Routine, string(r.Status), r.Attempts,
		r.StartedAt.Format(time.RFC3339), formatOptionalTime(r.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("runindex: upsert %s: %w", r.ID, err)
	}
	return nil
}

// Get looks up a single run by id. A nil result with no error means not
// found.
func (idx *Index) Get(id string) (*RunRecord, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	row := idx.db.QueryRow(`SELECT id, chain, seq, routine, status, attempts, started_at, ended_at
		FROM runs WHERE id = ?`, id)
	rec, err := scanRunRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("runindex: get %s: %w", id, err)
	}
	return rec, nil
}

// ListByChain returns every run belonging to chain, ordered by sequence.
func (idx *Index) ListByChain(chain string) ([]RunRecord, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rows, err := idx.db.Query(`SELECT id, chain, seq, routine, status, attempts, started_at, ended_at
		FROM runs WHERE chain = ? ORDER BY seq ASC`, chain)
	if err != nil {
		return nil, fmt.Errorf("runindex: list chain %s: %w", chain, err)
	}
	defer rows.Close()
	return scanRunRecords(rows)
}

// Recent returns the n most recently started runs across all chains.
func (idx *Index) Recent(n int) ([]RunRecord, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rows, err := idx.db.Query(`SELECT id, chain, seq, routine, status, attempts, started_at, ended_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("runindex: recent: %w", err)
	}
	defer rows.Close()
	return scanRunRecords(rows)
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRunRecord(row scannable) (*RunRecord, error) {
	var r RunRecord
	var status, startedAt string
	var endedAt sql.NullString
	if err := row.Scan(&r.ID, &r.Chain, &r.Seq, &r.Routine, &status, &r.Attempts, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	r.Status = domain.RunStatus(status)
	r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if endedAt.Valid {
		t, _ := time.Parse(time.RFC3339, endedAt.String)
		r.EndedAt = &t
	}
	return &r, nil
}

func scanRunRecords(rows *sql.Rows) ([]RunRecord, error) {
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRunRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func formatOptionalTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}
