// Package results writes the full results of a finished job to the blob store.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/evalpipe/internal/blob"
	"github.com/cuongbtq/evalpipe/internal/domain"
	"github.com/cuongbtq/evalpipe/internal/telemetry"
)

const (
	// Container holds every materialized result document
	Container = "evaluation-results"

	contentTypeJSON = "application/json"
)

// Key returns the blob key of a job's results document
func Key(jobID string) string {
	return fmt.Sprintf("jobs/%s/results.json", jobID)
}

// Materializer stores job results out of band. Persistence is best effort: a
// missing or failing store yields a nil reference, never an error.
type Materializer struct {
	store    blob.Store
	logger   *slog.Logger
	recorder telemetry.Recorder
}

// NewMaterializer creates a new Materializer. store may be nil.
func NewMaterializer(store blob.Store, logger *slog.Logger, recorder telemetry.Recorder) *Materializer {
	if recorder == nil {
		recorder = telemetry.Nop{}
	}
	return &Materializer{
		store:    store,
		logger:   logger,
		recorder: recorder,
	}
}

// Materialize serializes results and writes them under the job's key
func (m *Materializer) Materialize(ctx context.Context, jobID string, results *domain.JobResults) *domain.BlobReference {
	if m == nil || m.store == nil {
		return nil
	}
	if results == nil {
		return nil
	}

	ctx, end := m.recorder.StartSpan(ctx, "results.materialize")
	defer end()

	data, err := json.Marshal(results)
	if err != nil {
		m.logger.Error("Failed to serialize job results",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return nil
	}

	ref, err := m.store.Write(ctx, Container, Key(jobID), data, contentTypeJSON)
	if err != nil {
		m.recorder.IncCounter("results.materialize.failed")
		m.logger.Warn("Blob store unavailable, results not materialized",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return nil
	}

	m.recorder.IncCounter("results.materialize.succeeded")
	m.logger.Info("Job results materialized",
		slog.String("job_id", jobID),
		slog.String("locator", ref.Locator),
		slog.Int64("size_bytes", ref.SizeBytes),
	)

	return ref
}
