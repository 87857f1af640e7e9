package store

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
)

// Run is one invocation of the pipeline.
type Run struct {
	ID          string
	InputFolder string
	Features    string
	Status      RunStatus
	Videos      int
	Succeeded   int
	Partial     int
	Failed      int
	Skipped     int
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// RunRepository provides access to runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Create inserts a new run in the running state.
func (r *RunRepository) Create(run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = RunRunning

	_, err := r.db.Exec(
		`INSERT INTO runs (id, input_folder, features, status, videos, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.InputFolder, run.Features, string(run.Status), run.Videos, run.StartedAt,
	)
	return err
}

// Finish stores the final counts and status of a run.
func (r *RunRepository) Finish(run *Run) error {
	now := time.Now()
	run.FinishedAt = &now

	result, err := r.db.Exec(
		`UPDATE runs SET status = ?, videos = ?, succeeded = ?, partial = ?, failed = ?, skipped = ?, finished_at = ?
		 WHERE id = ?`,
		string(run.Status), run.Videos, run.Succeeded, run.Partial, run.Failed, run.Skipped, now, run.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id, input_folder, features, status, videos, succeeded, partial, failed, skipped, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var (
		status   string
		finished sql.NullTime
	)
	err := row.Scan(&run.ID, &run.InputFolder, &run.Features, &status,
		&run.Videos, &run.Succeeded, &run.Partial, &run.Failed, &run.Skipped,
		&run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	run, err := scanRun(r.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

// List retrieves the most recent runs first. A limit of 0 returns all runs.
func (r *RunRepository) List(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}
