package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/medlit/orchestrator/internal/core"
)

// PostgresJobStore is the durable JobStore backed by Postgres. It enforces
// the same write rules as the in-memory store, using a row lock so the
// transition checks and the commit are one transaction.
type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(databaseURL string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresJobStore{db: db}, nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the jobs table if it does not exist yet.
func (s *PostgresJobStore) EnsureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id UUID PRIMARY KEY,
			kind TEXT NOT NULL,
			model_id TEXT,
			status TEXT NOT NULL,
			progress DOUBLE PRECISION NOT NULL DEFAULT 0,
			step INTEGER NOT NULL DEFAULT 0,
			total_steps INTEGER NOT NULL DEFAULT 0,
			metric_json JSONB NOT NULL DEFAULT '{}',
			error_message TEXT NOT NULL DEFAULT '',
			cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
			attempt INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 3,
			version BIGINT NOT NULL DEFAULT 0,
			params_json JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_model_status ON jobs (model_id, status);
		CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
	`)
	return err
}

const jobColumns = `
	id, kind, model_id, status, progress, step, total_steps,
	metric_json, error_message, cancel_requested, attempt, max_retries,
	version, params_json, created_at, started_at, completed_at`

func (s *PostgresJobStore) CreateJob(job *core.Job) error {
	metricJSON, err := json.Marshal(job.Metric)
	if err != nil {
		return err
	}
	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (
			id, kind, model_id, status, progress, step, total_steps,
			metric_json, error_message, cancel_requested, attempt, max_retries,
			version, params_json, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.db.Exec(query,
		job.ID,
		job.Kind,
		nullString(job.ModelID),
		job.Status,
		job.Progress,
		job.Step,
		job.TotalSteps,
		metricJSON,
		job.ErrorMessage,
		job.CancelRequested,
		job.Attempt,
		job.MaxRetries,
		job.Version,
		paramsJSON,
		job.CreatedAt,
	)
	return err
}

func (s *PostgresJobStore) GetJob(id uuid.UUID) (*core.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *PostgresJobStore) ListJobs(filter core.JobFilter) ([]*core.Job, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	argIndex := 1

	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, *filter.Status)
		argIndex++
	}
	if filter.ModelID != "" {
		where += fmt.Sprintf(" AND model_id = $%d", argIndex)
		args = append(args, filter.ModelID)
		argIndex++
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + jobColumns + ` FROM jobs` + where + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	query += fmt.Sprintf(" OFFSET $%d", argIndex)
	args = append(args, filter.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []*core.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

func (s *PostgresJobStore) UpdateJob(job *core.Job) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, job.ID)
	stored, err := scanJob(row)
	if err != nil {
		return err
	}

	if stored.Version != job.Version {
		return core.ErrVersionConflict
	}
	if stored.Status.IsTerminal() {
		return core.ErrJobTerminal
	}
	if job.Status != stored.Status && !core.CanTransition(stored.Status, job.Status) {
		return core.ErrIllegalTransition
	}
	if stored.Status == core.JobStatusRunning && job.Status == core.JobStatusRunning &&
		job.Progress < stored.Progress {
		return core.ErrProgressRegression
	}

	metricJSON, err := json.Marshal(job.Metric)
	if err != nil {
		return err
	}

	newVersion := stored.Version + 1
	cancelRequested := job.CancelRequested || stored.CancelRequested

	_, err = tx.Exec(`
		UPDATE jobs SET
			status = $1, progress = $2, step = $3, metric_json = $4,
			error_message = $5, cancel_requested = $6, attempt = $7,
			version = $8, started_at = $9, completed_at = $10
		WHERE id = $11`,
		job.Status,
		job.Progress,
		job.Step,
		metricJSON,
		job.ErrorMessage,
		cancelRequested,
		job.Attempt,
		newVersion,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		job.ID,
	)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	job.Version = newVersion
	return nil
}

func (s *PostgresJobStore) RequestCancel(id uuid.UUID) (*core.Job, error) {
	// The flag flips only for non-terminal jobs; status is untouched either way.
	_, err := s.db.Exec(`
		UPDATE jobs SET cancel_requested = TRUE
		WHERE id = $1 AND status IN ($2, $3)`,
		id, core.JobStatusPending, core.JobStatusRunning,
	)
	if err != nil {
		return nil, err
	}
	return s.GetJob(id)
}

func (s *PostgresJobStore) HasActiveJobForModel(modelID string) (bool, error) {
	if modelID == "" {
		return false, nil
	}
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM jobs
		WHERE model_id = $1 AND status IN ($2, $3)`,
		modelID, core.JobStatusPending, core.JobStatusRunning,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*core.Job, error) {
	var (
		job        core.Job
		modelID    sql.NullString
		metricJSON []byte
		paramsJSON []byte
		startedAt  sql.NullTime
		completed  sql.NullTime
	)

	err := row.Scan(
		&job.ID,
		&job.Kind,
		&modelID,
		&job.Status,
		&job.Progress,
		&job.Step,
		&job.TotalSteps,
		&metricJSON,
		&job.ErrorMessage,
		&job.CancelRequested,
		&job.Attempt,
		&job.MaxRetries,
		&job.Version,
		&paramsJSON,
		&job.CreatedAt,
		&startedAt,
		&completed,
	)
	if err == sql.ErrNoRows {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	if modelID.Valid {
		job.ModelID = modelID.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completed.Valid {
		job.CompletedAt = &completed.Time
	}
	if len(metricJSON) > 0 {
		if err := json.Unmarshal(metricJSON, &job.Metric); err != nil {
			return nil, err
		}
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &job.Params); err != nil {
			return nil, err
		}
	}
	return &job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
