// Package dispatcher consumes dispatch messages from the queue and
// drives claimed jobs through execution: claim, run the backend,
// record the outcome, and retry transient failures within the job's
// retry budget.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"vocalis/internal/domain"
	"vocalis/internal/lifecycle"
	"vocalis/shared/rabbitmq"
)

// Config holds dispatcher configuration
type Config struct {
	Logger            *slog.Logger
	RabbitClient      *rabbitmq.Client
	Jobs              *lifecycle.Manager
	Executor          *Executor
	Concurrency       int
	PrefetchCount     int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
}

// Dispatcher is the worker-side consumer and execution pool.
type Dispatcher struct {
	logger            *slog.Logger
	rabbitClient      *rabbitmq.Client
	jobs              *lifecycle.Manager
	executor          *Executor
	workerID          string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	jobsChan          chan *domain.JobMessage
	wg                sync.WaitGroup
	stopChan          chan struct{}
}

// New creates a new dispatcher instance
func New(cfg *Config) *Dispatcher {
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = cfg.Concurrency * 2
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	return &Dispatcher{
		logger:            cfg.Logger,
		rabbitClient:      cfg.RabbitClient,
		jobs:              cfg.Jobs,
		executor:          cfg.Executor,
		workerID:          fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		concurrency:       cfg.Concurrency,
		prefetchCount:     prefetch,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: heartbeat,
		jobsChan:          make(chan *domain.JobMessage),
		stopChan:          make(chan struct{}),
	}
}

// Start begins consuming and processing jobs. It blocks until the
// context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("Starting dispatcher",
		slog.String("worker_id", d.workerID),
		slog.Int("concurrency", d.concurrency),
		slog.Duration("job_timeout", d.jobTimeout),
	)

	deliveries, err := d.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to setup consumer: %w", err)
	}

	d.spawnWorkerPool(ctx)
	go d.startMessageDispatcher(ctx, deliveries)

	<-ctx.Done()
	d.logger.Info("Dispatcher context canceled, stopping...")
	return nil
}

// Stop gracefully stops the dispatcher, waiting for in-flight jobs.
func (d *Dispatcher) Stop() {
	d.logger.Info("Stopping dispatcher...")
	close(d.stopChan)
	d.wg.Wait()
	d.logger.Info("Dispatcher stopped")
}
