// Package history keeps a local SQLite ledger of collection runs.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agent462/muster/internal/collector"
)

// Run is one recorded collection run. FinishedAt is zero while a run is
// still in flight or was interrupted before the rollup landed.
type Run struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	OutputDir  string
	Hosts      int
	Captured   int
	Failed     int
}

// HostRecord is the per-host rollup stored with a run.
type HostRecord struct {
	RunID       int64
	Address     string
	DisplayName string
	Captured    int
	Rejected    int
	ErrorText   string
	Duration    time.Duration
}

// Store records collection runs in a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens the ledger at path, creating the file, its parent directory,
// and the schema as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			output_dir TEXT NOT NULL,
			hosts INTEGER NOT NULL DEFAULT 0,
			captured INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS host_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL REFERENCES runs(id),
			address TEXT NOT NULL,
			display_name TEXT NOT NULL,
			captured INTEGER NOT NULL,
			rejected INTEGER NOT NULL,
			error_text TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_host_results_run ON host_results(run_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensuring history schema: %w", err)
		}
	}
	return nil
}

// BeginRun inserts a run row and returns its id.
func (s *Store) BeginRun(startedAt time.Time, outputDir string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO runs(started_at, output_dir) VALUES (?,?)`, startedAt, outputDir)
	if err != nil {
		return 0, fmt.Errorf("recording run start: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("recording run start: %w", err)
	}
	return id, nil
}

// FinishRun stores the per-host rollups and closes out the run row.
func (s *Store) FinishRun(runID int64, finishedAt time.Time, outcomes []*collector.HostOutcome) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	defer tx.Rollback()

	hosts, captured, failed := 0, 0, 0
	for _, o := range outcomes {
		hosts++
		captured += o.Captured()
		errText := ""
		if o.ConnectErr != nil {
			errText = o.ConnectErr.Error()
			failed++
		}
		_, err := tx.Exec(`INSERT INTO host_results(run_id,address,display_name,captured,rejected,error_text,duration_ms)
			VALUES (?,?,?,?,?,?,?)`,
			runID, o.Host.Address, o.Host.DisplayName, o.Captured(), o.Rejected(), errText, o.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("recording host result: %w", err)
		}
	}
	_, err = tx.Exec(`UPDATE runs SET finished_at=?, hosts=?, captured=?, failed=? WHERE id=?`,
		finishedAt, hosts, captured, failed, runID)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	return tx.Commit()
}

// Recent returns the most recent runs, newest first.
func (s *Store) Recent(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT id, started_at, finished_at, output_dir, hosts, captured, failed
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// FindByHost returns the most recent runs that touched a host whose address
// or display name matches the glob pattern, newest first.
func (s *Store) FindByHost(pattern string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT DISTINCT r.id, r.started_at, r.finished_at, r.output_dir, r.hosts, r.captured, r.failed
		FROM runs r JOIN host_results h ON h.run_id = r.id
		WHERE h.address GLOB ? OR h.display_name GLOB ?
		ORDER BY r.id DESC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// HostResults returns the per-host rows for one run in insertion order.
func (s *Store) HostResults(runID int64) ([]HostRecord, error) {
	rows, err := s.db.Query(`SELECT run_id, address, display_name, captured, rejected, error_text, duration_ms
		FROM host_results WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []HostRecord
	for rows.Next() {
		var h HostRecord
		var durationMs int64
		if err := rows.Scan(&h.RunID, &h.Address, &h.DisplayName, &h.Captured, &h.Rejected, &h.ErrorText, &durationMs); err != nil {
			return nil, err
		}
		h.Duration = time.Duration(durationMs) * time.Millisecond
		list = append(list, h)
	}
	return list, rows.Err()
}

// Cleanup deletes everything but the newest maxRuns runs. Zero or negative
// keeps everything.
func (s *Store) Cleanup(maxRuns int) error {
	if maxRuns <= 0 {
		return nil
	}
	if _, err := s.db.Exec(`DELETE FROM host_results WHERE run_id IN
		(SELECT id FROM runs ORDER BY id DESC LIMIT -1 OFFSET ?)`, maxRuns); err != nil {
		return fmt.Errorf("pruning history: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM runs WHERE id IN
		(SELECT id FROM runs ORDER BY id DESC LIMIT -1 OFFSET ?)`, maxRuns); err != nil {
		return fmt.Errorf("pruning history: %w", err)
	}
	return nil
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var list []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &r.OutputDir, &r.Hosts, &r.Captured, &r.Failed); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		list = append(list, r)
	}
	return list, rows.Err()
}
