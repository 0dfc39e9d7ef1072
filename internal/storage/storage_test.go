package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cuongbtq/evalpipe/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	db, err := sqlx.Connect("sqlite3", "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := NewStorageFromDB(db)
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func newPendingJob(id string, createdAt time.Time) *domain.Job {
	threshold := 0.75
	return &domain.Job{
		ID:        id,
		Name:      "eval " + id,
		Type:      domain.JobTypeBulkEvaluation,
		Status:    domain.JobStatusPending,
		Priority:  2,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
		Configuration: domain.JobConfiguration{
			DataSource: "blob://inputs/set.csv",
			EvaluationCriteria: domain.EvaluationCriteria{
				SimilarityThreshold: &threshold,
			},
		},
	}
}

func TestStorage_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateJob(ctx, newPendingJob("job-1", created), "key-1"))

	job, err := s.GetByID(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, domain.JobTypeBulkEvaluation, job.Type)
	assert.Equal(t, 2, job.Priority)
	require.NotNil(t, job.Configuration.EvaluationCriteria.SimilarityThreshold)
	assert.Equal(t, 0.75, *job.Configuration.EvaluationCriteria.SimilarityThreshold)
	assert.True(t, created.Equal(job.CreatedAt))
	assert.Nil(t, job.CompletedAt)
	assert.Nil(t, job.ErrorDetails)

	byKey, err := s.GetByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, byKey)
	assert.Equal(t, "job-1", byKey.ID)
}

func TestStorage_GetMissingReturnsNil(t *testing.T) {
	s := newTestStorage(t)

	job, err := s.GetByID(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, job)
}

func TestStorage_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()

	require.NoError(t, s.CreateJob(ctx, newPendingJob("job-1", now), "same"))
	err := s.CreateJob(ctx, newPendingJob("job-2", now), "same")
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)

	// jobs without a key never collide
	require.NoError(t, s.CreateJob(ctx, newPendingJob("job-3", now), ""))
	require.NoError(t, s.CreateJob(ctx, newPendingJob("job-4", now), ""))
}

func TestStorage_UpdateFollowsTransitions(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()
	require.NoError(t, s.CreateJob(ctx, newPendingJob("job-1", now), ""))

	job, err := s.GetByID(ctx, "job-1")
	require.NoError(t, err)

	require.NoError(t, job.TransitionTo(domain.JobStatusRunning, now))
	job.SetProgress(2, 4)
	require.NoError(t, s.Update(ctx, job))

	require.NoError(t, job.TransitionTo(domain.JobStatusCompleted, now))
	job.Summary = &domain.ResultsSummary{TotalEvaluations: 4, Passed: 3, Failed: 1, AverageScore: 0.81, PassRate: 75}
	job.ResultsRef = &domain.BlobReference{ID: "ref", Container: "evaluation-results", Key: "jobs/job-1/results.json"}
	require.NoError(t, s.Update(ctx, job))

	stored, err := s.GetByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	require.NotNil(t, stored.Summary)
	assert.Equal(t, 75.0, stored.Summary.PassRate)
	require.NotNil(t, stored.ResultsRef)
	assert.Equal(t, "jobs/job-1/results.json", stored.ResultsRef.Key)
	assert.Equal(t, 50.0, stored.Progress.Percentage)
}

func TestStorage_UpdateRejectsInvalidTransition(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now().UTC()

	completed := newPendingJob("job-1", now)
	require.NoError(t, s.CreateJob(ctx, completed, ""))
	require.NoError(t, completed.TransitionTo(domain.JobStatusRunning, now))
	require.NoError(t, s.Update(ctx, completed))
	require.NoError(t, completed.TransitionTo(domain.JobStatusCompleted, now))
	require.NoError(t, s.Update(ctx, completed))

	tests := []struct {
		name   string
		status domain.JobStatus
	}{
		{name: "completed to running", status: domain.JobStatusRunning},
		{name: "completed to failed", status: domain.JobStatusFailed},
		{name: "completed to pending", status: domain.JobStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stale := *completed
			stale.Status = tt.status

			err := s.Update(ctx, &stale)
			assert.ErrorIs(t, err, domain.ErrInvalidTransition)

			stored, err := s.GetByID(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, domain.JobStatusCompleted, stored.Status)
		})
	}
}

func TestStorage_UpdateMissingJob(t *testing.T) {
	s := newTestStorage(t)
	job := newPendingJob("ghost", time.Now())
	job.Status = domain.JobStatusRunning

	err := s.Update(context.Background(), job)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStorage_ListJobsPagination(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := range 5 {
		job := newPendingJob(fmt.Sprintf("job-%d", i), base.Add(time.Duration(i)*time.Minute))
		if i == 4 {
			job.Type = domain.JobTypeSingleEvaluation
		}
		require.NoError(t, s.CreateJob(ctx, job, ""))
	}

	page, err := s.ListJobs(ctx, JobFilter{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "job-4", page[0].ID)
	assert.Equal(t, "job-3", page[1].ID)

	last := page[1]
	next, err := s.ListJobs(ctx, JobFilter{
		PageSize: 2,
		Cursor:   &JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID},
	})
	require.NoError(t, err)
	require.Len(t, next, 3)
	assert.Equal(t, "job-2", next[0].ID)

	filtered, err := s.ListJobs(ctx, JobFilter{PageSize: 10, JobType: string(domain.JobTypeSingleEvaluation)})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "job-4", filtered[0].ID)

	pending, err := s.ListJobs(ctx, JobFilter{PageSize: 10, Status: string(domain.JobStatusPending)})
	require.NoError(t, err)
	assert.Len(t, pending, 5)
}
