package queue

import (
	"context"
	"time"
)

// Message property names attached to every published message
const (
	PropertyJobID         = "job_id"
	PropertyMessageType   = "message_type"
	PropertyCorrelationID = "correlation_id"
	PropertyPriority      = "priority"
)

// ContentTypeJSON is the content type of every job message body
const ContentTypeJSON = "application/json"

// OutboundMessage is a serialized message ready for a transport
type OutboundMessage struct {
	MessageID   string
	Subject     string
	ContentType string
	Body        []byte
	Properties  map[string]string
}

// Sender sends one message to the job queue
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// Delivery is one message received under a peek-lock. Exactly one of
// Complete, Abandon or DeadLetter must be called.
type Delivery interface {
	MessageID() string
	Body() []byte
	// DeliveryCount is 1 on the first delivery
	DeliveryCount() int
	Complete(ctx context.Context) error
	Abandon(ctx context.Context) error
	DeadLetter(ctx context.Context, reason, description string) error
}

// ReceiverOptions configures a receiver
type ReceiverOptions struct {
	MaxConcurrentDeliveries int
	PrefetchCount           int
	LockDuration            time.Duration
	MaxLockRenewal          time.Duration
}

// DefaultReceiverOptions returns the consumer defaults
func DefaultReceiverOptions() ReceiverOptions {
	return ReceiverOptions{
		MaxConcurrentDeliveries: 5,
		PrefetchCount:           10,
		LockDuration:            time.Minute,
		MaxLockRenewal:          10 * time.Minute,
	}
}

// Receiver hands out deliveries until ctx is done or the transport fails.
// The returned channel is closed when the receiver stops.
type Receiver interface {
	Receive(ctx context.Context, opts ReceiverOptions) (<-chan Delivery, error)
}
