package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies a lifecycle message
type MessageType string

const (
	MessageJobCreated   MessageType = "JobCreated"
	MessageJobStarted   MessageType = "JobStarted"
	MessageJobProgress  MessageType = "JobProgress"
	MessageJobCompleted MessageType = "JobCompleted"
	MessageJobFailed    MessageType = "JobFailed"
	MessageJobCancelled MessageType = "JobCancelled"
)

// Valid reports whether t is a known message type
func (t MessageType) Valid() bool {
	switch t {
	case MessageJobCreated, MessageJobStarted, MessageJobProgress,
		MessageJobCompleted, MessageJobFailed, MessageJobCancelled:
		return true
	}
	return false
}

// JobMessage is the envelope carried on the job queue
type JobMessage struct {
	JobID          string          `json:"job_id"`
	MessageType    MessageType     `json:"message_type"`
	CreatedAt      time.Time       `json:"created_at"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CorrelationID  *string         `json:"correlation_id"`
	RetryCount     int             `json:"retry_count"`
	BlobReferences []BlobReference `json:"blob_references"`
}

// JobCreatedPayload is carried by JobCreated messages
type JobCreatedPayload struct {
	Name     string  `json:"name"`
	Type     JobType `json:"type"`
	Priority int     `json:"priority"`
}

// JobStartedPayload is carried by JobStarted messages
type JobStartedPayload struct {
	StartedAt time.Time `json:"started_at"`
}

// JobCompletedPayload is carried by JobCompleted messages
type JobCompletedPayload struct {
	Summary    *ResultsSummary `json:"summary"`
	ResultsRef *BlobReference  `json:"results_ref,omitempty"`
}

// JobFailedPayload is carried by JobFailed messages
type JobFailedPayload struct {
	ErrorDetails *ErrorDetails `json:"error_details"`
}

// DecodeJobMessage parses a queue body. Any failure, including a missing job id
// or an unknown message type, is reported as ErrDeserialization.
func DecodeJobMessage(body []byte) (*JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}

	if msg.JobID == "" {
		return nil, fmt.Errorf("%w: job_id is empty", ErrDeserialization)
	}

	if !msg.MessageType.Valid() {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrDeserialization, msg.MessageType)
	}

	return &msg, nil
}

// Correlation returns the correlation id or an empty string
func (m *JobMessage) Correlation() string {
	if m.CorrelationID == nil {
		return ""
	}
	return *m.CorrelationID
}
