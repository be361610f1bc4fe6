package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/blkluv/photo-booth-sogni-sub001/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the data store
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Connection string parameters for concurrent access:
	// - _journal_mode=WAL: Write-Ahead Logging for better concurrency
	// - _busy_timeout=10000: wait up to 10 seconds when the database is locked
	// - _synchronous=NORMAL: balance between safety and performance
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to avoid SQLITE_BUSY under concurrent lane recording
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		style_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		image_url TEXT NOT NULL,
		state TEXT NOT NULL,
		remote_id TEXT,
		progress REAL NOT NULL DEFAULT 0,
		result_url TEXT,
		error TEXT,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		transitions TEXT,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_run ON jobs(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateRun adds a new run to the store
func (s *SQLiteStore) CreateRun(run *models.Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, style_id, started_at, succeeded, failed)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.StyleID, run.StartedAt, run.Tally.Succeeded, run.Tally.Failed)
	return err
}

// FinishRun stamps a run with its final tally and finish time
func (s *SQLiteStore) FinishRun(id string, tally models.Tally, finishedAt time.Time) error {
	result, err := s.db.Exec(`
		UPDATE runs SET succeeded = ?, failed = ?, finished_at = ? WHERE id = ?
	`, tally.Succeeded, tally.Failed, finishedAt, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(id string) (*models.Run, error) {
	var run models.Run
	var finishedAt sql.NullTime

	err := s.db.QueryRow(`
		SELECT id, style_id, started_at, finished_at, succeeded, failed
		FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.StyleID, &run.StartedAt, &finishedAt,
		&run.Tally.Succeeded, &run.Tally.Failed)

	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return &run, nil
}

// ListRuns returns runs newest first, up to limit (0 means all)
func (s *SQLiteStore) ListRuns(limit int) ([]*models.Run, error) {
	query := `
		SELECT id, style_id, started_at, finished_at, succeeded, failed
		FROM runs ORDER BY started_at DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		var run models.Run
		var finishedAt sql.NullTime

		if err := rows.Scan(&run.ID, &run.StyleID, &run.StartedAt, &finishedAt,
			&run.Tally.Succeeded, &run.Tally.Failed); err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// RecordJob stores one finished job under its run
func (s *SQLiteStore) RecordJob(runID string, job *models.Job) error {
	transitions, err := json.Marshal(job.Transitions)
	if err != nil {
		return fmt.Errorf("failed to marshal transitions: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO jobs
		(id, run_id, image_url, state, remote_id, progress, result_url, error,
		 created_at, started_at, completed_at, transitions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, runID, job.Source.URL, string(job.State), job.RemoteID, job.Progress,
		job.ResultURL, job.Error, job.CreatedAt, job.StartedAt, job.CompletedAt,
		string(transitions))
	return err
}

// GetRunJobs returns the recorded jobs of a run
func (s *SQLiteStore) GetRunJobs(runID string) ([]*models.Job, error) {
	rows, err := s.db.Query(`
		SELECT id, image_url, state, remote_id, progress, result_url, error,
		       created_at, started_at, completed_at, transitions
		FROM jobs WHERE run_id = ? ORDER BY created_at ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var job models.Job
		var state string
		var remoteID, resultURL, errMsg, transitionsJSON sql.NullString
		var startedAt, completedAt sql.NullTime

		if err := rows.Scan(&job.ID, &job.Source.URL, &state, &remoteID, &job.Progress,
			&resultURL, &errMsg, &job.CreatedAt, &startedAt, &completedAt,
			&transitionsJSON); err != nil {
			return nil, err
		}

		job.State = models.JobState(state)
		if remoteID.Valid {
			job.RemoteID = remoteID.String
		}
		if resultURL.Valid {
			job.ResultURL = resultURL.String
		}
		if errMsg.Valid {
			job.Error = errMsg.String
		}
		if startedAt.Valid {
			job.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			job.CompletedAt = &completedAt.Time
		}
		if transitionsJSON.Valid && transitionsJSON.String != "" && transitionsJSON.String != "null" {
			if err := json.Unmarshal([]byte(transitionsJSON.String), &job.Transitions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal transitions: %w", err)
			}
		}

		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
