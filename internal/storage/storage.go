// Package storage is the job repository. It works on postgres and sqlite
// through sqlx; queries are written with ? placeholders and rebound per driver.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/evalpipe/internal/domain"
	"github.com/cuongbtq/evalpipe/shared/database"
	"github.com/jmoiron/sqlx"
)

// ErrDuplicateIdempotencyKey is returned when a job with the same key already exists
var ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	idempotency_key TEXT UNIQUE,
	name            TEXT NOT NULL,
	job_type        TEXT NOT NULL,
	status          TEXT NOT NULL,
	priority        INTEGER NOT NULL DEFAULT 0,
	configuration   TEXT NOT NULL,
	progress        TEXT NOT NULL,
	error_details   TEXT,
	summary         TEXT,
	results_ref     TEXT,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL,
	completed_at    TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs (created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
`

const jobColumns = `
	id, idempotency_key, name, job_type, status, priority,
	configuration, progress, error_details, summary, results_ref,
	created_at, updated_at, completed_at`

// jobRow is the column layout of the jobs table
type jobRow struct {
	ID             string         `db:"id"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	Name           string         `db:"name"`
	JobType        string         `db:"job_type"`
	Status         string         `db:"status"`
	Priority       int            `db:"priority"`
	Configuration  string         `db:"configuration"`
	Progress       string         `db:"progress"`
	ErrorDetails   sql.NullString `db:"error_details"`
	Summary        sql.NullString `db:"summary"`
	ResultsRef     sql.NullString `db:"results_ref"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
}

// Storage is the sqlx backed job repository
type Storage struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStorage creates a repository on an open database client
func NewStorage(client *database.Client) *Storage {
	return NewStorageFromDB(client.GetDB())
}

// NewStorageFromDB creates a repository on an existing sqlx handle
func NewStorageFromDB(db *sqlx.DB) *Storage {
	return &Storage{
		db:  db,
		now: time.Now,
	}
}

// EnsureSchema creates the jobs table and its indexes if missing
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CreateJob inserts a new job. idempotencyKey may be empty.
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job, idempotencyKey string) error {
	row, err := toRow(job)
	if err != nil {
		return err
	}
	if idempotencyKey != "" {
		row.IdempotencyKey = sql.NullString{String: idempotencyKey, Valid: true}
	}

	query := s.db.Rebind(`
		INSERT INTO jobs (` + jobColumns + `
		) VALUES (
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?
		)
	`)

	_, err = s.db.ExecContext(ctx, query,
		row.ID, row.IdempotencyKey, row.Name, row.JobType, row.Status, row.Priority,
		row.Configuration, row.Progress, row.ErrorDetails, row.Summary, row.ResultsRef,
		row.CreatedAt, row.UpdatedAt, row.CompletedAt,
	)
	if err != nil {
		if row.IdempotencyKey.Valid && isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, idempotencyKey)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetByID returns the job, or nil without error when it does not exist
func (s *Storage) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var row jobRow
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`)

	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toJob()
}

// GetByIdempotencyKey returns the job created with key, or nil when none exists
func (s *Storage) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Job, error) {
	var row jobRow
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE idempotency_key = ?`)

	if err := s.db.GetContext(ctx, &row, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job by idempotency key: %w", err)
	}

	return row.toJob()
}

// Update writes the full job record in one statement. The write only applies
// when the stored status may transition to job.Status; otherwise it returns
// ErrInvalidTransition, or ErrJobNotFound when the job does not exist.
func (s *Storage) Update(ctx context.Context, job *domain.Job) error {
	var predecessors []string
	for _, status := range domain.Predecessors(job.Status) {
		predecessors = append(predecessors, string(status))
	}
	if len(predecessors) == 0 {
		return fmt.Errorf("%w: no transition leads to %s", domain.ErrInvalidTransition, job.Status)
	}

	job.UpdatedAt = s.now().UTC()
	row, err := toRow(job)
	if err != nil {
		return err
	}

	query, args, err := sqlx.In(`
		UPDATE jobs SET
			name = ?, status = ?, priority = ?,
			configuration = ?, progress = ?, error_details = ?, summary = ?, results_ref = ?,
			updated_at = ?, completed_at = ?
		WHERE id = ? AND status IN (?)
	`,
		row.Name, row.Status, row.Priority,
		row.Configuration, row.Progress, row.ErrorDetails, row.Summary, row.ResultsRef,
		row.UpdatedAt, row.CompletedAt,
		row.ID, predecessors,
	)
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 1 {
		return nil
	}

	current, err := s.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, job.ID)
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, job.Status)
}

// JobFilter narrows a job listing
type JobFilter struct {
	JobType  string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position of the last job of a page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns up to PageSize+1 jobs, newest first. The extra job tells
// the caller whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}

	if filter.JobType != "" {
		query += " AND job_type = ?"
		args = append(args, filter.JobType)
	}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	if filter.Cursor != nil {
		query += " AND (created_at < ? OR (created_at = ? AND id < ?))"
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.JobID)
	}

	// Order by created_at DESC, id DESC for consistent pagination
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, filter.PageSize+1)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func toRow(job *domain.Job) (*jobRow, error) {
	configuration, err := json.Marshal(job.Configuration)
	if err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	progress, err := json.Marshal(job.Progress)
	if err != nil {
		return nil, fmt.Errorf("failed to encode progress: %w", err)
	}

	row := &jobRow{
		ID:            job.ID,
		Name:          job.Name,
		JobType:       string(job.Type),
		Status:        string(job.Status),
		Priority:      job.Priority,
		Configuration: string(configuration),
		Progress:      string(progress),
		CreatedAt:     job.CreatedAt.UTC(),
		UpdatedAt:     job.UpdatedAt.UTC(),
	}
	if job.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: job.CompletedAt.UTC(), Valid: true}
	}
	if row.ErrorDetails, err = nullJSON(job.ErrorDetails); err != nil {
		return nil, err
	}
	if row.Summary, err = nullJSON(job.Summary); err != nil {
		return nil, err
	}
	if row.ResultsRef, err = nullJSON(job.ResultsRef); err != nil {
		return nil, err
	}
	return row, nil
}

func (r *jobRow) toJob() (*domain.Job, error) {
	job := &domain.Job{
		ID:        r.ID,
		Name:      r.Name,
		Type:      domain.JobType(r.JobType),
		Status:    domain.JobStatus(r.Status),
		Priority:  r.Priority,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.CompletedAt.Valid {
		completedAt := r.CompletedAt.Time.UTC()
		job.CompletedAt = &completedAt
	}

	if err := json.Unmarshal([]byte(r.Configuration), &job.Configuration); err != nil {
		return nil, fmt.Errorf("failed to decode configuration of job %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Progress), &job.Progress); err != nil {
		return nil, fmt.Errorf("failed to decode progress of job %s: %w", r.ID, err)
	}
	if r.ErrorDetails.Valid {
		job.ErrorDetails = &domain.ErrorDetails{}
		if err := json.Unmarshal([]byte(r.ErrorDetails.String), job.ErrorDetails); err != nil {
			return nil, fmt.Errorf("failed to decode error details of job %s: %w", r.ID, err)
		}
	}
	if r.Summary.Valid {
		job.Summary = &domain.ResultsSummary{}
		if err := json.Unmarshal([]byte(r.Summary.String), job.Summary); err != nil {
			return nil, fmt.Errorf("failed to decode summary of job %s: %w", r.ID, err)
		}
	}
	if r.ResultsRef.Valid {
		job.ResultsRef = &domain.BlobReference{}
		if err := json.Unmarshal([]byte(r.ResultsRef.String), job.ResultsRef); err != nil {
			return nil, fmt.Errorf("failed to decode results reference of job %s: %w", r.ID, err)
		}
	}
	return job, nil
}

func nullJSON[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode column: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
