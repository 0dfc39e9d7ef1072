package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	all := []JobStatus{JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled}

	allowed := map[[2]JobStatus]bool{
		{JobStatusPending, JobStatusRunning}:   true,
		{JobStatusPending, JobStatusFailed}:    true,
		{JobStatusRunning, JobStatusRunning}:   true,
		{JobStatusRunning, JobStatusCompleted}: true,
		{JobStatusRunning, JobStatusFailed}:    true,
		{JobStatusRunning, JobStatusCancelled}: true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]JobStatus{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransitionTo(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("running to completed stamps completed_at", func(t *testing.T) {
		job := &Job{Status: JobStatusRunning}
		require.NoError(t, job.TransitionTo(JobStatusCompleted, now))

		assert.Equal(t, JobStatusCompleted, job.Status)
		assert.Equal(t, now, job.UpdatedAt)
		require.NotNil(t, job.CompletedAt)
		assert.Equal(t, now, *job.CompletedAt)
	})

	t.Run("no transition out of terminal states", func(t *testing.T) {
		for _, terminal := range []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
			job := &Job{Status: terminal}
			err := job.TransitionTo(JobStatusRunning, now)

			require.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, terminal, job.Status)
		}
	})

	t.Run("pending cannot complete directly", func(t *testing.T) {
		job := &Job{Status: JobStatusPending}
		require.ErrorIs(t, job.TransitionTo(JobStatusCompleted, now), ErrInvalidTransition)
		assert.Nil(t, job.CompletedAt)
	})
}

func TestPredecessors(t *testing.T) {
	assert.ElementsMatch(t, []JobStatus{JobStatusPending, JobStatusRunning}, Predecessors(JobStatusRunning))
	assert.ElementsMatch(t, []JobStatus{JobStatusRunning}, Predecessors(JobStatusCompleted))
	assert.ElementsMatch(t, []JobStatus{JobStatusPending, JobStatusRunning}, Predecessors(JobStatusFailed))
	assert.Empty(t, Predecessors(JobStatusPending))
}

func TestSetProgress(t *testing.T) {
	tests := []struct {
		name      string
		completed int
		total     int
		want      Progress
	}{
		{name: "zero total", completed: 0, total: 0, want: Progress{}},
		{name: "partial", completed: 1, total: 3, want: Progress{TotalItems: 3, CompletedItems: 1, Percentage: 33.3}},
		{name: "done", completed: 3, total: 3, want: Progress{TotalItems: 3, CompletedItems: 3, Percentage: 100}},
		{name: "completed above total is capped", completed: 9, total: 3, want: Progress{TotalItems: 3, CompletedItems: 3, Percentage: 100}},
		{name: "negative completed", completed: -2, total: 4, want: Progress{TotalItems: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{}
			job.SetProgress(tt.completed, tt.total)
			assert.Equal(t, tt.want, job.Progress)
		})
	}
}

func TestJobConfiguration_Threshold(t *testing.T) {
	zero, strict := 0.0, 0.95

	tests := []struct {
		name string
		json string
		want float64
	}{
		{name: "unset uses default", json: `{"evaluation_criteria":{}}`, want: DefaultSimilarityThreshold},
		{name: "explicit zero is kept", json: `{"evaluation_criteria":{"similarity_threshold":0}}`, want: zero},
		{name: "explicit value", json: `{"evaluation_criteria":{"similarity_threshold":0.95}}`, want: strict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg JobConfiguration
			require.NoError(t, json.Unmarshal([]byte(tt.json), &cfg))
			assert.Equal(t, tt.want, cfg.Threshold())
		})
	}
}
