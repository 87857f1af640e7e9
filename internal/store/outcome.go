package store

import (
	"database/sql"
	"errors"
	"time"
)

// Outcome statuses, mirroring the per-video bundle status.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Outcome is the recorded result of processing one video in one run.
type Outcome struct {
	ID            int64
	RunID         string
	VideoPath     string
	OutputName    string
	Features      string
	Status        string
	ErrorKind     string
	Error         string
	FramesRead    int
	FramesDecoded int
	FramesSkipped int
	// DetectionFailures counts decoded frames on which a tracker failed.
	DetectionFailures int
	Rows              int
	VideoOut          string
	Thumbnail         string
	TableOut          string
	StartedAt         time.Time
	FinishedAt        time.Time
}

// OutcomeRepository provides access to video outcomes.
type OutcomeRepository struct {
	db *sql.DB
}

// Outcomes returns the outcome repository for this store.
func (s *Store) Outcomes() *OutcomeRepository {
	return &OutcomeRepository{db: s.db}
}

// Record inserts an outcome and sets its ID.
func (r *OutcomeRepository) Record(o *Outcome) error {
	if o.FinishedAt.IsZero() {
		o.FinishedAt = time.Now()
	}
	if o.StartedAt.IsZero() {
		o.StartedAt = o.FinishedAt
	}

	result, err := r.db.Exec(
		`INSERT INTO video_outcomes (run_id, video_path, output_name, features, status, error_kind, error,
			frames_read, frames_decoded, frames_skipped, detection_failures, rows_written, video_out, thumbnail, table_out,
			started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.RunID, o.VideoPath, o.OutputName, o.Features, o.Status, o.ErrorKind, o.Error,
		o.FramesRead, o.FramesDecoded, o.FramesSkipped, o.DetectionFailures, o.Rows, o.VideoOut, o.Thumbnail, o.TableOut,
		o.StartedAt, o.FinishedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	o.ID = id
	return nil
}

const outcomeColumns = `id, run_id, video_path, output_name, features, status, error_kind, error,
	frames_read, frames_decoded, frames_skipped, detection_failures, rows_written, video_out, thumbnail, table_out, started_at, finished_at`

func scanOutcome(row rowScanner) (*Outcome, error) {
	o := &Outcome{}
	err := row.Scan(&o.ID, &o.RunID, &o.VideoPath, &o.OutputName, &o.Features, &o.Status, &o.ErrorKind, &o.Error,
		&o.FramesRead, &o.FramesDecoded, &o.FramesSkipped, &o.DetectionFailures, &o.Rows, &o.VideoOut, &o.Thumbnail, &o.TableOut,
		&o.StartedAt, &o.FinishedAt)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ListByRun retrieves the outcomes of a run in the order they were recorded.
func (r *OutcomeRepository) ListByRun(runID string) ([]*Outcome, error) {
	rows, err := r.db.Query(`SELECT `+outcomeColumns+` FROM video_outcomes WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []*Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return outcomes, nil
}

// LatestProcessed returns the most recent success or partial outcome of a
// video for a tracker combination. Outcomes in which the trackers failed on
// every decoded frame do not count.
func (r *OutcomeRepository) LatestProcessed(videoPath, features string) (*Outcome, error) {
	o, err := scanOutcome(r.db.QueryRow(
		`SELECT `+outcomeColumns+` FROM video_outcomes
		 WHERE video_path = ? AND features = ? AND status IN (?, ?)
		   AND (frames_decoded = 0 OR detection_failures < frames_decoded)
		 ORDER BY id DESC LIMIT 1`,
		videoPath, features, StatusSuccess, StatusPartial,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return o, nil
}
