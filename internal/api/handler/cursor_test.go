package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/cuongbtq/evalpipe/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCursor_RoundTrip(t *testing.T) {
	cursor := &storage.JobCursor{
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC),
		JobID:     "3c1f8d5e-0b9a-4a8f-9d7e-2b6c5a4f3e21",
	}

	decoded, err := DecodeJobCursor(EncodeJobCursor(cursor))
	require.NoError(t, err)
	assert.True(t, cursor.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, cursor.JobID, decoded.JobID)
}

func TestDecodeJobCursor_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
	}{
		{name: "not base64", cursor: "%%%"},
		{name: "padded encoding", cursor: base64.URLEncoding.EncodeToString([]byte("12|a"))},
		{name: "missing separator", cursor: base64.RawURLEncoding.EncodeToString([]byte("12345"))},
		{name: "bad timestamp", cursor: base64.RawURLEncoding.EncodeToString([]byte("abc|job"))},
		{name: "empty job id", cursor: base64.RawURLEncoding.EncodeToString([]byte("12345|"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJobCursor(tt.cursor)
			assert.ErrorIs(t, err, ErrInvalidCursor)
		})
	}
}

func TestDecodeJobCursor_Empty(t *testing.T) {
	cursor, err := DecodeJobCursor("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}
