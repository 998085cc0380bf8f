// Package worker consumes job messages and drives each job through its lifecycle.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer is the queue the worker reads job messages from
type Consumer interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Cancel(consumerTag string) error
}

// Advancer drives a single job as far as it can go
type Advancer interface {
	Advance(ctx context.Context, jobID string) error
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Consumer    Consumer
	Controller  Advancer
	Concurrency int
	WorkerID    string
}

// Worker represents the background job worker
type Worker struct {
	logger      *slog.Logger
	consumer    Consumer
	controller  Advancer
	concurrency int
	workerID    string
	jobsChan    chan *jobDelivery
	wg          sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "videogen-worker"
	}

	return &Worker{
		logger:      cfg.Logger,
		consumer:    cfg.Consumer,
		controller:  cfg.Controller,
		concurrency: concurrency,
		workerID:    workerID,
		jobsChan:    make(chan *jobDelivery),
	}
}

// Start consumes job messages until ctx is canceled or the delivery channel
// closes, then waits for in-flight jobs to hand back their deliveries.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
	)

	deliveries, err := w.consumer.Consume(w.workerID)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	if err := w.consumer.Cancel(w.workerID); err != nil {
		w.logger.Warn("Failed to cancel consumer", slog.String("error", err.Error()))
	}

	close(w.jobsChan)
	w.wg.Wait()

	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
	return nil
}
