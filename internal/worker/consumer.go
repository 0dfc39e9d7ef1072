package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/evalpipe/internal/queue"
)

// receiveLoop keeps a receiver established until ctx is canceled. Transport
// failures are logged and retried after the reconnect delay.
func (w *Worker) receiveLoop(ctx context.Context) {
	for {
		deliveries, err := w.receiver.Receive(ctx, w.opts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.recorder.IncCounter("worker.receiver_errors")
			w.logger.Error("Failed to establish receiver",
				slog.String("worker_id", w.workerID),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", w.reconnectDelay),
			)
			if !w.sleep(ctx, w.reconnectDelay) {
				return
			}
			continue
		}

		w.logger.Info("Receiver established",
			slog.String("worker_id", w.workerID),
		)

		w.startMessageDispatcher(ctx, deliveries)
		if ctx.Err() != nil {
			return
		}

		w.logger.Warn("Delivery channel closed, re-establishing receiver",
			slog.Duration("retry_in", w.reconnectDelay),
		)
		if !w.sleep(ctx, w.reconnectDelay) {
			return
		}
	}
}

// startMessageDispatcher forwards deliveries to the worker pool until the
// channel closes or ctx is canceled
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan queue.Delivery) {
	w.logger.Debug("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				return
			}

			select {
			case w.jobsChan <- delivery:
				w.logger.Debug("Message dispatched to worker pool",
					slog.String("message_id", delivery.MessageID()),
					slog.Int("delivery_count", delivery.DeliveryCount()),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching message")
				// abandon so the message can be redelivered
				w.settle(ctx, delivery, Outcome{Action: ActionAbandon})
				return
			}
		}
	}
}

// sleep waits for d and reports false if ctx ended first
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-w.stopChan:
		return false
	case <-timer.C:
		return true
	}
}
