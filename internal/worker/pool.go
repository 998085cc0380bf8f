package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/cuongbtq/videogen/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop runs jobs until jobsChan is closed. It keeps draining after ctx
// is canceled so every dispatched delivery is settled.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	log := w.logger.With(slog.String("worker_name", workerName))
	log.Debug("Worker goroutine started")

	for job := range w.jobsChan {
		jobLog := log.With(
			slog.String("job_id", job.msg.JobID),
			slog.Uint64("delivery_tag", job.msg.DeliveryTag),
		)
		jobLog.Info("Worker received job")

		jobCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(job.msg.Trace))
		err := w.controller.Advance(jobCtx, job.msg.JobID)
		if err == nil {
			if ackErr := job.delivery.Ack(false); ackErr != nil {
				jobLog.Error("Failed to ACK message", slog.String("error", ackErr.Error()))
			}
			continue
		}

		requeue := shouldRequeueJob(err)
		jobLog.Warn("Job processing ended with error",
			slog.String("error", err.Error()),
			slog.Bool("requeue", requeue),
		)
		if nackErr := job.delivery.Nack(false, requeue); nackErr != nil {
			jobLog.Error("Failed to NACK message", slog.String("error", nackErr.Error()))
		}
	}

	log.Debug("Worker goroutine stopped")
}

// shouldRequeueJob reports whether the message should go back on the queue.
// Only interruptions are requeued; job failures are already recorded on the job.
func shouldRequeueJob(err error) bool {
	if errors.Is(err, domain.ErrAuthentication) || errors.Is(err, domain.ErrJobNotFound) {
		return false
	}

	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}
