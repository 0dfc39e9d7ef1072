package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/evalpipe/internal/queue"
)

// settleTimeout bounds Complete, Abandon and DeadLetter calls
const settleTimeout = 10 * time.Second

// spawnWorkerPool spawns one handler goroutine per allowed concurrent delivery
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	concurrency := w.opts.MaxConcurrentDeliveries

	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", concurrency),
	)
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case delivery := <-w.jobsChan:
			w.processDelivery(ctx, workerName, delivery)
		}
	}
}

// processDelivery handles one delivery within the lock renewal budget and settles it
func (w *Worker) processDelivery(ctx context.Context, workerName string, delivery queue.Delivery) {
	msgCtx, cancel := context.WithTimeout(ctx, w.opts.MaxLockRenewal)
	defer cancel()

	start := w.now()
	outcome := w.HandleMessage(msgCtx, delivery.Body(), delivery.DeliveryCount())
	w.recorder.ObserveDuration("worker.message_duration", w.now().Sub(start))

	w.logger.Info("Message handled",
		slog.String("worker_name", workerName),
		slog.String("message_id", delivery.MessageID()),
		slog.Int("delivery_count", delivery.DeliveryCount()),
		slog.String("outcome", outcome.Action.String()),
	)

	w.settle(ctx, delivery, outcome)
}

// settle applies outcome to the delivery. It uses a fresh context so a
// shutting-down worker can still release its messages.
func (w *Worker) settle(ctx context.Context, delivery queue.Delivery, outcome Outcome) {
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	var err error
	switch outcome.Action {
	case ActionComplete:
		err = delivery.Complete(settleCtx)
		w.recorder.IncCounter("worker.messages_completed")
	case ActionAbandon:
		err = delivery.Abandon(settleCtx)
		w.recorder.IncCounter("worker.messages_abandoned")
	case ActionDeadLetter:
		err = delivery.DeadLetter(settleCtx, outcome.Reason, outcome.Description)
		w.recorder.IncCounter("worker.messages_dead_lettered")
	}

	if err != nil {
		w.logger.Error("Failed to settle message",
			slog.String("message_id", delivery.MessageID()),
			slog.String("outcome", outcome.Action.String()),
			slog.String("error", err.Error()),
		)
	}
}
