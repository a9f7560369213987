package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one end-to-end verification sequence.
type Run struct {
	ID             int64     `json:"-"`
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	SubmitExitCode int       `json:"submit_exit_code"`
	NotifyOK       bool      `json:"notify_ok"`
	Fetched        int       `json:"fetched"`
	Matched        int       `json:"matched"`
	Report         string    `json:"report"`
}

// FormResult is the verdict for one form within a run.
type FormResult struct {
	RunID      string `json:"-"`
	Site       string `json:"site"`
	Form       string `json:"form"`
	Working    bool   `json:"working"`
	MatchedUID uint32 `json:"matched_uid,omitempty"`
}

// FormStats aggregates verdicts for one form across all recorded runs.
type FormStats struct {
	Site    string
	Form    string
	Runs    int
	Working int
}

// Ratio returns the fraction of runs in which the form worked.
func (f FormStats) Ratio() float64 {
	if f.Runs == 0 {
		return 0
	}
	return float64(f.Working) / float64(f.Runs)
}

type Store struct {
	db *sql.DB
}

// scanRun handles nullable columns when scanning a row
func scanRun(scanner interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	var startedAt, finishedAt sql.NullTime
	var report sql.NullString

	err := scanner.Scan(&r.ID, &r.RunID, &startedAt, &finishedAt,
		&r.SubmitExitCode, &r.NotifyOK, &r.Fetched, &r.Matched, &report)
	if err != nil {
		return nil, err
	}

	r.StartedAt = startedAt.Time
	r.FinishedAt = finishedAt.Time
	r.Report = report.String
	return &r, nil
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Writers would otherwise contend for the file lock.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		submit_exit_code INTEGER NOT NULL DEFAULT -1,
		notify_ok INTEGER NOT NULL DEFAULT 0,
		fetched INTEGER NOT NULL DEFAULT 0,
		matched INTEGER NOT NULL DEFAULT 0,
		report TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS form_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		site TEXT NOT NULL,
		form TEXT NOT NULL,
		working INTEGER NOT NULL,
		matched_uid INTEGER,
		FOREIGN KEY (run_id) REFERENCES runs(run_id)
	);

	CREATE INDEX IF NOT EXISTS idx_fr_run_id ON form_results(run_id);
	CREATE INDEX IF NOT EXISTS idx_fr_form ON form_results(site, form);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// AddRun stores a run and its per-form verdicts atomically.
func (s *Store) AddRun(ctx context.Context, run *Run, results []FormResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
	INSERT INTO runs (run_id, started_at, finished_at, submit_exit_code, notify_ok, fetched, matched, report)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		run.StartedAt,
		run.FinishedAt,
		run.SubmitExitCode,
		run.NotifyOK,
		run.Fetched,
		run.Matched,
		run.Report,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	for _, fr := range results {
		var uid sql.NullInt64
		if fr.Working {
			uid = sql.NullInt64{Int64: int64(fr.MatchedUID), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO form_results (run_id, site, form, working, matched_uid) VALUES (?, ?, ?, ?, ?)`,
			run.RunID, fr.Site, fr.Form, fr.Working, uid,
		); err != nil {
			return fmt.Errorf("failed to insert form result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	run.ID = id
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, run_id, started_at, finished_at, submit_exit_code, notify_ok, fetched, matched, report
	FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// FormResults returns the verdicts recorded for runID in catalog order.
func (s *Store) FormResults(ctx context.Context, runID string) ([]FormResult, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT run_id, site, form, working, matched_uid FROM form_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query form results: %w", err)
	}
	defer rows.Close()

	var results []FormResult
	for rows.Next() {
		var fr FormResult
		var uid sql.NullInt64
		if err := rows.Scan(&fr.RunID, &fr.Site, &fr.Form, &fr.Working, &uid); err != nil {
			return nil, fmt.Errorf("failed to scan form result: %w", err)
		}
		fr.MatchedUID = uint32(uid.Int64)
		results = append(results, fr)
	}
	return results, rows.Err()
}

// FormStats returns per-form working counts over all runs.
func (s *Store) FormStats(ctx context.Context) ([]FormStats, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT site, form, COUNT(*), SUM(CASE WHEN working THEN 1 ELSE 0 END)
	FROM form_results GROUP BY site, form ORDER BY MIN(id)`)
	if err != nil {
		return nil, fmt.Errorf("failed to query form stats: %w", err)
	}
	defer rows.Close()

	var stats []FormStats
	for rows.Next() {
		var fs FormStats
		if err := rows.Scan(&fs.Site, &fs.Form, &fs.Runs, &fs.Working); err != nil {
			return nil, fmt.Errorf("failed to scan form stats: %w", err)
		}
		stats = append(stats, fs)
	}
	return stats, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }
