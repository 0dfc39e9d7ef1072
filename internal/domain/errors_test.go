package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error defaults to retryable", err: errors.New("connection reset"), want: true},
		{name: "explicit retryable", err: NewRetryableError(errors.New("timeout")), want: true},
		{name: "explicit non-retryable", err: NewNonRetryableError(KindConfiguration, errors.New("bad")), want: false},
		{name: "unsupported job type", err: fmt.Errorf("engine: %w", ErrUnsupportedJobType), want: false},
		{name: "invalid transition", err: fmt.Errorf("update: %w", ErrInvalidTransition), want: false},
		{name: "deserialization", err: ErrDeserialization, want: false},
		{name: "invalid configuration", err: ErrInvalidConfiguration, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, KindDeserialization, ErrorKind(fmt.Errorf("x: %w", ErrDeserialization)))
	assert.Equal(t, KindInvalidState, ErrorKind(ErrInvalidTransition))
	assert.Equal(t, KindConfiguration, ErrorKind(ErrUnsupportedJobType))
	assert.Equal(t, KindCancelled, ErrorKind(context.Canceled))
	assert.Equal(t, KindTransient, ErrorKind(errors.New("boom")))
	assert.Equal(t, "CUSTOM", ErrorKind(NewNonRetryableError("CUSTOM", errors.New("x"))))
}

func TestDecodeJobMessage(t *testing.T) {
	t.Run("valid message", func(t *testing.T) {
		body := []byte(`{"job_id":"j1","message_type":"JobCreated","created_at":"2026-01-01T00:00:00Z","payload":{"name":"n"},"correlation_id":"c1","retry_count":2,"blob_references":null}`)

		msg, err := DecodeJobMessage(body)
		assert.NoError(t, err)
		assert.Equal(t, "j1", msg.JobID)
		assert.Equal(t, MessageJobCreated, msg.MessageType)
		assert.Equal(t, "c1", msg.Correlation())
		assert.Equal(t, 2, msg.RetryCount)
	})

	for name, body := range map[string]string{
		"not json":       `{{`,
		"missing job id": `{"message_type":"JobCreated"}`,
		"unknown type":   `{"job_id":"j1","message_type":"JobExploded"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeJobMessage([]byte(body))
			assert.ErrorIs(t, err, ErrDeserialization)
		})
	}
}

func TestSummarize(t *testing.T) {
	summary := Summarize([]EvaluationResult{
		{SimilarityScore: 0.9, Passed: true},
		{SimilarityScore: 0.5},
		{SimilarityScore: 0.8123, Passed: true},
	})

	assert.Equal(t, 3, summary.TotalEvaluations)
	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0.737, summary.AverageScore)
	assert.Equal(t, 66.7, summary.PassRate)

	assert.Equal(t, ResultsSummary{}, Summarize(nil))
}
