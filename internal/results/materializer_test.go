package results

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/evalpipe/internal/blob"
	"github.com/cuongbtq/evalpipe/internal/domain"
	"github.com/cuongbtq/evalpipe/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	blob.Store
}

func (failingStore) Write(ctx context.Context, container, key string, data []byte, contentType string) (*domain.BlobReference, error) {
	return nil, errors.New("connection refused")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleResults() *domain.JobResults {
	items := []domain.EvaluationResult{
		{ItemID: "1", SimilarityScore: 0.9, Passed: true},
		{ItemID: "2", SimilarityScore: 0.5, Passed: false},
	}
	return &domain.JobResults{
		JobID:       "job-1",
		Summary:     domain.Summarize(items),
		Items:       items,
		GeneratedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMaterialize_WritesResults(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	recorder := telemetry.NewCounters()
	m := NewMaterializer(store, testLogger(), recorder)

	ref := m.Materialize(ctx, "job-1", sampleResults())
	require.NotNil(t, ref)

	assert.Equal(t, Container, ref.Container)
	assert.Equal(t, "jobs/job-1/results.json", ref.Key)
	assert.Equal(t, "application/json", ref.ContentType)
	assert.Equal(t, 30*24*time.Hour, ref.ExpiresAt.Sub(ref.CreatedAt))
	assert.Positive(t, ref.SizeBytes)
	assert.Equal(t, int64(1), recorder.Count("results.materialize.succeeded"))

	rc, err := store.Read(ctx, Container, Key("job-1"))
	require.NoError(t, err)
	defer rc.Close()

	var stored domain.JobResults
	require.NoError(t, json.NewDecoder(rc).Decode(&stored))
	assert.Equal(t, 2, stored.Summary.TotalEvaluations)
	assert.Len(t, stored.Items, 2)
}

func TestMaterialize_BestEffort(t *testing.T) {
	tests := []struct {
		name  string
		store blob.Store
	}{
		{name: "no store configured", store: nil},
		{name: "store failure", store: failingStore{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMaterializer(tt.store, testLogger(), nil)
			assert.Nil(t, m.Materialize(context.Background(), "job-1", sampleResults()))
		})
	}
}
