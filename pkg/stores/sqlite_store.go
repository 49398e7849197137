package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/converge-sh/converge/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists run history in a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init opens the database, enables WAL mode, and runs migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting in SQLite.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	if err := s.migrate(); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// migrate applies the embedded schema migrations.
func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordRun persists a completed run report atomically.
func (s *SQLiteStore) RecordRun(ctx context.Context, report *engine.RunReport) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status := "ok"
	if report.Failed() {
		status = "failed"
	}
	summary := report.Summarize()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, playbook, status, dry_run, started_at, completed_at, unchanged, changed, failed, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.ID,
		report.Playbook,
		status,
		report.DryRun,
		report.StartedAt,
		report.CompletedAt,
		summary.Unchanged,
		summary.Changed,
		summary.Failed,
		summary.Skipped,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for position, play := range report.Plays {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO play_results (run_id, position, name, target_group, status, reason, best_effort, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			report.ID,
			position,
			play.Name,
			play.TargetGroup,
			string(play.Status),
			play.Reason,
			play.BestEffort,
			play.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert play result: %w", err)
		}

		playID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get play result ID: %w", err)
		}

		for _, host := range play.Hosts {
			if err := insertActions(ctx, tx, playID, host.HostID, host.Actions); err != nil {
				return err
			}
			if err := insertActions(ctx, tx, playID, host.HostID, host.Handlers); err != nil {
				return err
			}
		}
	}

	for hostID, values := range report.Facts {
		for key, value := range values {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO host_facts (run_id, host_id, key, value)
				VALUES (?, ?, ?, ?)
			`, report.ID, hostID, key, value)
			if err != nil {
				return fmt.Errorf("failed to insert host fact: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run record: %w", err)
	}
	return nil
}

func insertActions(ctx context.Context, tx *sql.Tx, playID int64, hostID string, results []engine.ActionResult) error {
	for _, r := range results {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO action_results (play_id, host_id, action_id, capability, outcome, output, error, handler, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			playID,
			hostID,
			r.ID,
			string(r.Capability),
			string(r.Outcome),
			r.Output,
			r.Error,
			r.Handler,
			r.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert action result: %w", err)
		}
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, playbook, status, dry_run, started_at, completed_at, unchanged, changed, failed, skipped
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Playbook,
		&run.Status,
		&run.DryRun,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Unchanged,
		&run.Changed,
		&run.Failed,
		&run.Skipped,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs with pagination, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, playbook, status, dry_run, started_at, completed_at, unchanged, changed, failed, skipped
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID,
			&run.Playbook,
			&run.Status,
			&run.DryRun,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Unchanged,
			&run.Changed,
			&run.Failed,
			&run.Skipped,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// GetRunDetail retrieves a run with its full per-play, per-host outcomes.
func (s *SQLiteStore) GetRunDetail(ctx context.Context, id string) (*RunDetail, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &RunDetail{
		Run:     run,
		Actions: make(map[int64][]*ActionRecord),
	}

	playRows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, position, name, target_group, status, reason, best_effort, duration_ms
		FROM play_results
		WHERE run_id = ?
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list play results: %w", err)
	}
	defer playRows.Close()

	for playRows.Next() {
		play := &PlayRecord{}
		err := playRows.Scan(
			&play.ID,
			&play.RunID,
			&play.Position,
			&play.Name,
			&play.TargetGroup,
			&play.Status,
			&play.Reason,
			&play.BestEffort,
			&play.DurationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan play result: %w", err)
		}
		detail.Plays = append(detail.Plays, play)
	}
	if err := playRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating play results: %w", err)
	}

	for _, play := range detail.Plays {
		actionRows, err := s.db.QueryContext(ctx, `
			SELECT id, play_id, host_id, action_id, capability, outcome, output, error, handler, duration_ms
			FROM action_results
			WHERE play_id = ?
			ORDER BY id ASC
		`, play.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list action results: %w", err)
		}

		for actionRows.Next() {
			action := &ActionRecord{}
			err := actionRows.Scan(
				&action.ID,
				&action.PlayID,
				&action.HostID,
				&action.ActionID,
				&action.Capability,
				&action.Outcome,
				&action.Output,
				&action.Error,
				&action.Handler,
				&action.DurationMS,
			)
			if err != nil {
				actionRows.Close()
				return nil, fmt.Errorf("failed to scan action result: %w", err)
			}
			detail.Actions[play.ID] = append(detail.Actions[play.ID], action)
		}
		if err := actionRows.Err(); err != nil {
			actionRows.Close()
			return nil, fmt.Errorf("error iterating action results: %w", err)
		}
		actionRows.Close()
	}

	factRows, err := s.db.QueryContext(ctx, `
		SELECT run_id, host_id, key, value
		FROM host_facts
		WHERE run_id = ?
		ORDER BY host_id, key
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list host facts: %w", err)
	}
	defer factRows.Close()

	for factRows.Next() {
		fact := &FactRecord{}
		if err := factRows.Scan(&fact.RunID, &fact.HostID, &fact.Key, &fact.Value); err != nil {
			return nil, fmt.Errorf("failed to scan host fact: %w", err)
		}
		detail.Facts = append(detail.Facts, fact)
	}
	if err := factRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating host facts: %w", err)
	}

	return detail, nil
}

// DeleteRun deletes a run and its results.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// PruneRuns deletes all but the newest keep runs. Returns the number deleted.
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must be non-negative")
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	return result.RowsAffected()
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
