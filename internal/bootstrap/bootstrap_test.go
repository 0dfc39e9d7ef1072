package bootstrap

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/evalpipe/internal/blob"
	"github.com/cuongbtq/evalpipe/internal/config"
	"github.com/cuongbtq/evalpipe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInitDatabase_SQLite(t *testing.T) {
	ctx := context.Background()

	client, store, err := InitDatabase(ctx, &config.DatabaseConfig{
		Driver: "sqlite3",
		Path:   ":memory:",
	}, testLogger())
	require.NoError(t, err)
	defer client.Close()

	now := time.Now().UTC()
	job := &domain.Job{
		ID:        "6f1c2a0e-8d4b-4c59-9a57-3f1e2d8b7c10",
		Name:      "smoke",
		Type:      domain.JobTypeSingleEvaluation,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateJob(ctx, job, ""))

	got, err := store.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "smoke", got.Name)
	assert.NoError(t, client.HealthCheck(ctx))
}

func TestInitDatabase_UnsupportedDriver(t *testing.T) {
	_, _, err := InitDatabase(context.Background(), &config.DatabaseConfig{Driver: "mysql"}, testLogger())
	assert.Error(t, err)
}

func TestInitTransport_Unsupported(t *testing.T) {
	cfg := &config.Config{Queue: config.QueueConfig{Transport: "kafka"}}

	transport, err := InitTransport(context.Background(), cfg, testLogger())
	assert.Nil(t, transport)
	assert.ErrorContains(t, err, "unsupported queue transport")
}

func TestInitBlobStore(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.BlobConfig
		wantErr bool
	}{
		{name: "memory backend", cfg: config.BlobConfig{Backend: config.BlobBackendMemory}},
		{name: "empty backend defaults to memory", cfg: config.BlobConfig{}},
		{name: "unknown backend", cfg: config.BlobConfig{Backend: "gcs"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, closeFn, err := InitBlobStore(context.Background(), &tt.cfg, testLogger())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer closeFn()

			_, ok := store.(*blob.MemoryStore)
			assert.True(t, ok)
		})
	}
}

func TestInitBlobStore_MemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, closeFn, err := InitBlobStore(ctx, &config.BlobConfig{}, testLogger())
	require.NoError(t, err)
	defer closeFn()

	_, err = store.Write(ctx, "results", "job-1/summary.json", []byte(`{"ok":true}`), "application/json")
	require.NoError(t, err)

	rc, err := store.Read(ctx, "results", "job-1/summary.json")
	require.NoError(t, err)
	defer rc.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, buf.String())
}

func TestTransport_CloseWithoutConnection(t *testing.T) {
	assert.NoError(t, (&Transport{}).Close())
}
