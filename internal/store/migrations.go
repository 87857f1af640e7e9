package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Runs table - one row per invocation of the pipeline
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			input_folder TEXT NOT NULL,
			features TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('running', 'completed', 'cancelled')),
			videos INTEGER NOT NULL DEFAULT 0,
			succeeded INTEGER NOT NULL DEFAULT 0,
			partial INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,

		// Video outcomes table - one row per video per run
		`CREATE TABLE IF NOT EXISTS video_outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			video_path TEXT NOT NULL,
			output_name TEXT NOT NULL,
			features TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('success', 'partial', 'failed', 'skipped')),
			error_kind TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			frames_read INTEGER NOT NULL DEFAULT 0,
			frames_decoded INTEGER NOT NULL DEFAULT 0,
			frames_skipped INTEGER NOT NULL DEFAULT 0,
			detection_failures INTEGER NOT NULL DEFAULT 0,
			rows_written INTEGER NOT NULL DEFAULT 0,
			video_out TEXT NOT NULL DEFAULT '',
			thumbnail TEXT NOT NULL DEFAULT '',
			table_out TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_video_outcomes_run_id ON video_outcomes(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_video_outcomes_video ON video_outcomes(video_path, features)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
