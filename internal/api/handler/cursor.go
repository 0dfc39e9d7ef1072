package handler

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/evalpipe/internal/storage"
)

// ErrInvalidCursor is returned for a cursor that was not produced by EncodeJobCursor
var ErrInvalidCursor = errors.New("invalid cursor")

// DecodeJobCursor parses an opaque list cursor. An empty string means the first page.
func DecodeJobCursor(raw string) (*storage.JobCursor, error) {
	if raw == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	nanos, jobID, ok := strings.Cut(string(decoded), "|")
	if !ok || jobID == "" {
		return nil, ErrInvalidCursor
	}

	createdAt, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	return &storage.JobCursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		JobID:     jobID,
	}, nil
}

// EncodeJobCursor points the next page after the given job
func EncodeJobCursor(cursor *storage.JobCursor) string {
	body := strconv.FormatInt(cursor.CreatedAt.UnixNano(), 10) + "|" + cursor.JobID
	return base64.RawURLEncoding.EncodeToString([]byte(body))
}
