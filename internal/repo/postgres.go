/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HamedShams/timepulse/internal/config"
	"github.com/HamedShams/timepulse/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// ErrNoRuns is returned by GetLastRun before the first run was recorded.
var ErrNoRuns = errors.New("no job runs recorded")

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// Open connects and pings the database.
func Open(ctx context.Context, dsn string, log zerolog.Logger) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx2); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &DB{Pool: pool, log: log}, nil
}

func MustOpen(ctx context.Context, cfg config.Config, log zerolog.Logger) *DB {
	db, err := Open(ctx, cfg.DBDSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("db open failed")
	}
	return db
}

func (d *DB) Close() { d.Pool.Close() }

// Migrate applies the embedded schema. Every statement is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	return nil
}

type Repository struct {
	db  *DB
	log zerolog.Logger
}

func NewRepository(d *DB, log zerolog.Logger) *Repository { return &Repository{db: d, log: log} }

// WithAdvisoryLock runs fn while holding a session-level advisory lock on a
// dedicated connection. ran is false when another session holds the lock.
func (r *Repository) WithAdvisoryLock(ctx context.Context, key int64, fn func(context.Context) error) (ran bool, err error) {
	conn, err := r.db.Pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Release()
	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer func() {
		var unlocked bool
		uerr := conn.QueryRow(context.Background(), "SELECT pg_advisory_unlock($1)", key).Scan(&unlocked)
		if uerr == nil && !unlocked {
			uerr = errors.New("advisory unlock returned false")
		}
		if uerr != nil {
			r.log.Error().Err(uerr).Int64("key", key).Msg("advisory unlock failed")
		}
	}()
	return true, fn(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// insertOrLookup runs an INSERT ... ON CONFLICT DO NOTHING RETURNING id. When
// the row already existed (no row returned, or a concurrent writer won the
// unique check) it resolves the existing id with lookup.
func (r *Repository) insertOrLookup(ctx context.Context, insert string, insertArgs []any, lookup string, key any) (int64, bool, error) {
	var id int64
	err := r.db.Pool.QueryRow(ctx, insert, insertArgs...).Scan(&id)
	switch {
	case err == nil:
		return id, true, nil
	case errors.Is(err, pgx.ErrNoRows), isUniqueViolation(err):
		if err := r.db.Pool.QueryRow(ctx, lookup, key).Scan(&id); err != nil {
			return 0, false, err
		}
		return id, false, nil
	default:
		return 0, false, err
	}
}

// InsertLabel creates the label unless its name is taken and returns its id.
func (r *Repository) InsertLabel(ctx context.Context, name string) (int64, bool, error) {
	id, created, err := r.insertOrLookup(ctx,
		`INSERT INTO labels(name) VALUES($1) ON CONFLICT (name) DO NOTHING RETURNING id`, []any{name},
		`SELECT id FROM labels WHERE name=$1`, name)
	if err != nil {
		return 0, false, fmt.Errorf("insert label %q: %w", name, err)
	}
	return id, created, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// InsertIssue stores an issue keyed by identifier. With update=false an
// existing row is left untouched; with update=true its mutable columns are
// overwritten. created reports whether the row is new.
func (r *Repository) InsertIssue(ctx context.Context, i domain.Issue, update bool) (int64, bool, error) {
	args := []any{i.Identifier, i.Title, i.EstimateRaw, nullable(i.DelegateID), nullable(i.DelegateName),
		nullable(i.ProjectName), i.StartedAt, i.CompletedAt}
	if update {
		const q = `
			INSERT INTO tasks(identifier, title, estimated_time, delegate_id, delegate_name,
				project_name, started_at, completed_at)
			VALUES($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (identifier) DO UPDATE SET
				title=EXCLUDED.title,
				estimated_time=EXCLUDED.estimated_time,
				delegate_id=EXCLUDED.delegate_id,
				delegate_name=EXCLUDED.delegate_name,
				project_name=EXCLUDED.project_name,
				started_at=EXCLUDED.started_at,
				completed_at=EXCLUDED.completed_at,
				updated_at=now()
			RETURNING id, (xmax = 0)`
		var id int64
		var inserted bool
		if err := r.db.Pool.QueryRow(ctx, q, args...).Scan(&id, &inserted); err != nil {
			return 0, false, fmt.Errorf("upsert issue %s: %w", i.Identifier, err)
		}
		return id, inserted, nil
	}
	const q = `
		INSERT INTO tasks(identifier, title, estimated_time, delegate_id, delegate_name,
			project_name, started_at, completed_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (identifier) DO NOTHING
		RETURNING id`
	id, created, err := r.insertOrLookup(ctx, q, args, `SELECT id FROM tasks WHERE identifier=$1`, i.Identifier)
	if err != nil {
		return 0, false, fmt.Errorf("insert issue %s: %w", i.Identifier, err)
	}
	return id, created, nil
}

// LinkIssueLabel creates the (issue, label) association once.
func (r *Repository) LinkIssueLabel(ctx context.Context, issueID, labelID int64) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `INSERT INTO task_labels(task_id, label_id) VALUES($1,$2)
		ON CONFLICT (task_id, label_id) DO NOTHING`, issueID, labelID)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("link issue %d label %d: %w", issueID, labelID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertTimeEntry stores a linked time entry keyed by its source id.
func (r *Repository) InsertTimeEntry(ctx context.Context, e domain.TimeEntry) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `INSERT INTO time_entries(source_id, task_id, duration, start_at, stop_at, description)
		VALUES($1,$2,$3,$4,$5,$6)
		ON CONFLICT (source_id) DO NOTHING`, e.SourceID, e.TaskID, e.Duration, e.Start, e.Stop, e.Description)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert time entry %d: %w", e.SourceID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Job runs
func (r *Repository) StartJobRun(ctx context.Context, runID uuid.UUID, trigger string) error {
	_, err := r.db.Pool.Exec(ctx, `INSERT INTO job_runs(run_id, trigger, started_at, success) VALUES($1, $2, now(), false)`, runID, trigger)
	return err
}

func (r *Repository) FinishJobRun(ctx context.Context, runID uuid.UUID, success bool, errStr string, summary []byte) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE job_runs SET finished_at=now(), success=$2, error=$3, summary=$4 WHERE run_id=$1`,
		runID, success, errStr, summary)
	return err
}

type LastRun struct {
	RunID      uuid.UUID       `json:"run_id"`
	Trigger    string          `json:"trigger"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at"`
	Success    bool            `json:"success"`
	Error      string          `json:"error"`
	Summary    json.RawMessage `json:"summary,omitempty"`
}

func (r *Repository) GetLastRun(ctx context.Context) (*LastRun, error) {
	const q = `SELECT run_id, trigger, started_at, finished_at, success, error, summary
		FROM job_runs ORDER BY id DESC LIMIT 1`
	lr := &LastRun{}
	if err := r.db.Pool.QueryRow(ctx, q).Scan(&lr.RunID, &lr.Trigger, &lr.StartedAt, &lr.FinishedAt, &lr.Success, &lr.Error, &lr.Summary); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRuns
		}
		return nil, err
	}
	return lr, nil
}
