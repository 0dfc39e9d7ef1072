package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/evalpipe/internal/domain"
	"github.com/cuongbtq/evalpipe/internal/queue"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRepo keeps jobs in memory and enforces the transition table on update.
// Writes of failStatus fail with failErr failTimes times before succeeding.
type fakeRepo struct {
	mu     sync.Mutex
	jobs   map[string]domain.Job
	getErr error

	failStatus domain.JobStatus
	failTimes  int
	failErr    error
}

func newFakeRepo(jobs ...*domain.Job) *fakeRepo {
	r := &fakeRepo{jobs: make(map[string]domain.Job)}
	for _, j := range jobs {
		r.jobs[j.ID] = *j
	}
	return r
}

func (r *fakeRepo) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	job, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (r *fakeRepo) Update(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.jobs[job.ID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if r.failTimes > 0 && job.Status == r.failStatus {
		r.failTimes--
		return r.failErr
	}
	if !domain.CanTransition(stored.Status, job.Status) {
		return domain.ErrInvalidTransition
	}
	r.jobs[job.ID] = *job
	return nil
}

func (r *fakeRepo) failWrites(status domain.JobStatus, times int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failStatus = status
	r.failTimes = times
	r.failErr = err
}

func (r *fakeRepo) status(id string) domain.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id].Status
}

func (r *fakeRepo) setStatus(id string, status domain.JobStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	job.Status = status
	r.jobs[id] = job
}

func (r *fakeRepo) job(id string) domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

// fakeExecutor returns the scripted errors in order, then succeeds
type fakeExecutor struct {
	mu     sync.Mutex
	calls  int
	errs   []error
	result *domain.JobExecutionResult
	block  bool

	onExecute func(job *domain.Job)
}

func (e *fakeExecutor) ExecuteJob(ctx context.Context, job *domain.Job) (*domain.JobExecutionResult, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.mu.Unlock()

	if e.onExecute != nil {
		e.onExecute(job)
	}
	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if call <= len(e.errs) && e.errs[call-1] != nil {
		return nil, e.errs[call-1]
	}
	if e.result != nil {
		return e.result, nil
	}
	return &domain.JobExecutionResult{Success: true, Results: &domain.JobResults{JobID: job.ID}}, nil
}

func (e *fakeExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// fakePublisher records published lifecycle messages by type
type fakePublisher struct {
	mu        sync.Mutex
	published []domain.MessageType
	failed    []*domain.ErrorDetails
	err       error
}

func (p *fakePublisher) record(t domain.MessageType) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, t)
	return nil
}

func (p *fakePublisher) PublishJobStarted(ctx context.Context, inbound *domain.JobMessage) error {
	return p.record(domain.MessageJobStarted)
}

func (p *fakePublisher) PublishJobCompleted(ctx context.Context, inbound *domain.JobMessage, result *domain.JobExecutionResult) error {
	return p.record(domain.MessageJobCompleted)
}

func (p *fakePublisher) PublishJobFailed(ctx context.Context, inbound *domain.JobMessage, details *domain.ErrorDetails) error {
	p.mu.Lock()
	p.failed = append(p.failed, details)
	p.mu.Unlock()
	return p.record(domain.MessageJobFailed)
}

func (p *fakePublisher) types() []domain.MessageType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.MessageType(nil), p.published...)
}

// fakeDelivery records how it was settled
type fakeDelivery struct {
	id      string
	body    []byte
	count   int
	mu      sync.Mutex
	settled string
	reason  string
	done    chan struct{}
}

func newFakeDelivery(id string, body []byte, count int) *fakeDelivery {
	return &fakeDelivery{id: id, body: body, count: count, done: make(chan struct{})}
}

func (d *fakeDelivery) MessageID() string  { return d.id }
func (d *fakeDelivery) Body() []byte       { return d.body }
func (d *fakeDelivery) DeliveryCount() int { return d.count }

func (d *fakeDelivery) settle(how, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled == "" {
		d.settled = how
		d.reason = reason
		close(d.done)
	}
	return nil
}

func (d *fakeDelivery) Complete(ctx context.Context) error { return d.settle("complete", "") }
func (d *fakeDelivery) Abandon(ctx context.Context) error  { return d.settle("abandon", "") }
func (d *fakeDelivery) DeadLetter(ctx context.Context, reason, description string) error {
	return d.settle("dead_letter", reason)
}

func (d *fakeDelivery) wait(t *testing.T) string {
	t.Helper()
	select {
	case <-d.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("delivery %s was never settled", d.id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settled
}

// fakeReceiver hands out one scripted channel per Receive call
type fakeReceiver struct {
	mu       sync.Mutex
	channels []chan queue.Delivery
	errs     []error
	calls    int
	opts     queue.ReceiverOptions
}

func (r *fakeReceiver) Receive(ctx context.Context, opts queue.ReceiverOptions) (<-chan queue.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := r.calls
	r.calls++
	r.opts = opts

	if call < len(r.errs) && r.errs[call] != nil {
		return nil, r.errs[call]
	}
	if len(r.channels) == 0 {
		ch := make(chan queue.Delivery)
		return ch, nil
	}
	ch := r.channels[0]
	r.channels = r.channels[1:]
	return ch, nil
}

func pendingJob(id string) *domain.Job {
	return &domain.Job{
		ID:     id,
		Name:   "job " + id,
		Type:   domain.JobTypeBulkEvaluation,
		Status: domain.JobStatusPending,
	}
}

func jobCreatedBody(t *testing.T, jobID string) []byte {
	t.Helper()
	return messageBody(t, jobID, domain.MessageJobCreated)
}

func messageBody(t *testing.T, jobID string, messageType domain.MessageType) []byte {
	t.Helper()
	correlation := "corr-" + jobID
	body, err := json.Marshal(domain.JobMessage{
		JobID:         jobID,
		MessageType:   messageType,
		CreatedAt:     time.Now().UTC(),
		CorrelationID: &correlation,
	})
	require.NoError(t, err)
	return body
}
