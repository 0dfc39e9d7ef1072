package sqs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/cuongbtq/evalpipe/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu          sync.Mutex
	sent        []*sqs.SendMessageInput
	deleted     []string
	visibility  []int32
	batches     [][]types.Message
	receiveErr  error
	receiveOpts []*sqs.ReceiveMessageInput
	sendErr     error
}

func (f *fakeAPI) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("sqs-id")}, nil
}

func (f *fakeAPI) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	f.receiveOpts = append(f.receiveOpts, in)
	if f.receiveErr != nil {
		err := f.receiveErr
		f.mu.Unlock()
		return nil, err
	}
	if len(f.batches) > 0 {
		batch := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: batch}, nil
	}
	f.mu.Unlock()

	// emulate a long poll that ends with the context
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeAPI) ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visibility = append(f.visibility, in.VisibilityTimeout)
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (f *fakeAPI) visibilityCalls() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int32(nil), f.visibility...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sqsMessage(handle, receiveCount string) types.Message {
	msg := types.Message{
		MessageId:     aws.String("sqs-" + handle),
		ReceiptHandle: aws.String(handle),
		Body:          aws.String(`{"job_id":"j-1","message_type":"JobCreated"}`),
		MessageAttributes: map[string]types.MessageAttributeValue{
			attributeMessageID: stringAttribute("m-" + handle),
		},
	}
	if receiveCount != "" {
		msg.Attributes = map[string]string{"ApproximateReceiveCount": receiveCount}
	}
	return msg
}

func TestSend(t *testing.T) {
	tests := []struct {
		name      string
		queueURL  string
		wantGroup string
	}{
		{name: "standard queue", queueURL: "https://sqs.local/000/jobs"},
		{name: "fifo queue", queueURL: "https://sqs.local/000/jobs.fifo", wantGroup: "j-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{}
			client := NewClient(api, &Config{QueueURL: tt.queueURL}, testLogger())

			err := client.Send(context.Background(), queue.OutboundMessage{
				MessageID:   "m-1",
				Subject:     "JobCreated",
				ContentType: queue.ContentTypeJSON,
				Body:        []byte("{}"),
				Properties: map[string]string{
					queue.PropertyJobID:         "j-1",
					queue.PropertyCorrelationID: "c-1",
					queue.PropertyPriority:      "",
				},
			})
			require.NoError(t, err)
			require.Len(t, api.sent, 1)

			in := api.sent[0]
			assert.Equal(t, "{}", aws.ToString(in.MessageBody))
			assert.Equal(t, "m-1", aws.ToString(in.MessageAttributes[attributeMessageID].StringValue))
			assert.Equal(t, "c-1", aws.ToString(in.MessageAttributes[queue.PropertyCorrelationID].StringValue))
			assert.NotContains(t, in.MessageAttributes, queue.PropertyPriority)
			assert.Equal(t, tt.wantGroup, aws.ToString(in.MessageGroupId))
			if tt.wantGroup != "" {
				assert.Equal(t, "m-1", aws.ToString(in.MessageDeduplicationId))
			}
		})
	}
}

func TestSend_Error(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("throttled")}
	client := NewClient(api, &Config{QueueURL: "q"}, testLogger())

	err := client.Send(context.Background(), queue.OutboundMessage{MessageID: "m-1"})
	assert.ErrorContains(t, err, "throttled")
}

func TestReceive_Deliveries(t *testing.T) {
	api := &fakeAPI{batches: [][]types.Message{{sqsMessage("h1", "1"), sqsMessage("h2", "3")}}}
	client := NewClient(api, &Config{QueueURL: "q", WaitTimeSeconds: 1}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := client.Receive(ctx, queue.ReceiverOptions{PrefetchCount: 25, LockDuration: time.Minute})
	require.NoError(t, err)

	first := <-deliveries
	second := <-deliveries

	assert.Equal(t, "m-h1", first.MessageID())
	assert.Equal(t, 1, first.DeliveryCount())
	assert.Equal(t, 3, second.DeliveryCount())
	assert.JSONEq(t, `{"job_id":"j-1","message_type":"JobCreated"}`, string(first.Body()))

	require.NoError(t, first.Complete(ctx))
	require.NoError(t, second.Abandon(ctx))

	api.mu.Lock()
	assert.Equal(t, []string{"h1"}, api.deleted)
	opts := api.receiveOpts[0]
	api.mu.Unlock()

	assert.Equal(t, int32(maxBatchSize), opts.MaxNumberOfMessages)
	assert.Equal(t, int32(60), opts.VisibilityTimeout)
	assert.Equal(t, []int32{0}, api.visibilityCalls())
}

func TestReceive_ErrorClosesChannel(t *testing.T) {
	api := &fakeAPI{receiveErr: errors.New("access denied")}
	client := NewClient(api, &Config{QueueURL: "q"}, testLogger())

	deliveries, err := client.Receive(context.Background(), queue.ReceiverOptions{})
	require.NoError(t, err)

	select {
	case _, ok := <-deliveries:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery channel was not closed")
	}
}

func TestReceive_ShutdownReleasesUndispatchedMessages(t *testing.T) {
	api := &fakeAPI{batches: [][]types.Message{{sqsMessage("h1", "1"), sqsMessage("h2", "1")}}}
	client := NewClient(api, &Config{QueueURL: "q"}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	deliveries, err := client.Receive(ctx, queue.ReceiverOptions{LockDuration: time.Minute})
	require.NoError(t, err)

	<-deliveries
	cancel()

	// nobody takes the second message, so it must be released
	require.Eventually(t, func() bool {
		return len(api.visibilityCalls()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int32{0}, api.visibilityCalls())

	for range deliveries {
	}
}

func TestDelivery_LockRenewal(t *testing.T) {
	api := &fakeAPI{}
	client := NewClient(api, &Config{QueueURL: "q"}, testLogger())

	d := client.newDelivery(sqsMessage("h1", "1"))
	d.startRenewal(context.Background(), 2*time.Second, 5*time.Second)

	require.Eventually(t, func() bool {
		return len(api.visibilityCalls()) > 0
	}, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, d.Complete(context.Background()))

	assert.Equal(t, int32(2), api.visibilityCalls()[0])
}

func TestDelivery_DeadLetter(t *testing.T) {
	t.Run("copies to dead-letter queue and deletes", func(t *testing.T) {
		api := &fakeAPI{}
		client := NewClient(api, &Config{QueueURL: "q", DeadLetterQueueURL: "dlq.fifo"}, testLogger())
		d := client.newDelivery(sqsMessage("h1", "3"))

		require.NoError(t, d.DeadLetter(context.Background(), "TRANSIENT_ERROR", "boom"))

		require.Len(t, api.sent, 1)
		in := api.sent[0]
		assert.Equal(t, "dlq.fifo", aws.ToString(in.QueueUrl))
		assert.Equal(t, "TRANSIENT_ERROR", aws.ToString(in.MessageAttributes[AttributeDeadLetterReason].StringValue))
		assert.Equal(t, "boom", aws.ToString(in.MessageAttributes[AttributeDeadLetterDescription].StringValue))
		assert.Equal(t, "m-h1", aws.ToString(in.MessageDeduplicationId))
		assert.Equal(t, []string{"h1"}, api.deleted)
	})

	t.Run("long description is cut on a rune boundary", func(t *testing.T) {
		api := &fakeAPI{}
		client := NewClient(api, &Config{QueueURL: "q", DeadLetterQueueURL: "dlq"}, testLogger())
		d := client.newDelivery(sqsMessage("h1", "3"))
		description := strings.Repeat("a", 1023) + "échec de l'évaluation"

		require.NoError(t, d.DeadLetter(context.Background(), "EXECUTION_FAILED", description))

		require.Len(t, api.sent, 1)
		got := aws.ToString(api.sent[0].MessageAttributes[AttributeDeadLetterDescription].StringValue)
		assert.True(t, utf8.ValidString(got))
		assert.Equal(t, strings.Repeat("a", 1023), got)
	})

	t.Run("send failure keeps the message", func(t *testing.T) {
		api := &fakeAPI{sendErr: errors.New("throttled")}
		client := NewClient(api, &Config{QueueURL: "q", DeadLetterQueueURL: "dlq"}, testLogger())
		d := client.newDelivery(sqsMessage("h1", "3"))

		assert.Error(t, d.DeadLetter(context.Background(), "TRANSIENT_ERROR", "boom"))
		assert.Empty(t, api.deleted)
	})

	t.Run("without dead-letter queue releases", func(t *testing.T) {
		api := &fakeAPI{}
		client := NewClient(api, &Config{QueueURL: "q"}, testLogger())
		d := client.newDelivery(sqsMessage("h1", "3"))

		require.NoError(t, d.DeadLetter(context.Background(), "TRANSIENT_ERROR", "boom"))
		assert.Empty(t, api.sent)
		assert.Equal(t, []int32{0}, api.visibilityCalls())
	})
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "shorter than limit", in: "boom", n: 10, want: "boom"},
		{name: "ascii", in: "connection reset", n: 10, want: "connection"},
		{name: "two-byte rune at the cut", in: "abcé", n: 4, want: "abc"},
		{name: "three-byte rune at the cut", in: "ab日本", n: 4, want: "ab"},
		{name: "cut after a whole rune", in: "ab日本", n: 5, want: "ab日"},
		{name: "four-byte rune", in: "😀x", n: 3, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, len(got), tt.n)
		})
	}
}

func TestReceiveCount(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{name: "missing", raw: "", want: 1},
		{name: "first", raw: "1", want: 1},
		{name: "third", raw: "3", want: 3},
		{name: "garbage", raw: "x", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, receiveCount(sqsMessage("h", tt.raw)))
		})
	}
}
