package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"vocalis/internal/lifecycle"
)

// errTransient marks infrastructure failures where the message should
// go back to the queue for another worker to pick up.
var errTransient = errors.New("transient dispatch failure")

// spawnWorkerPool spawns N worker goroutines based on concurrency
func (d *Dispatcher) spawnWorkerPool(ctx context.Context) {
	d.logger.Info("Spawning worker pool",
		slog.Int("concurrency", d.concurrency),
		slog.String("worker_id", d.workerID),
	)

	for i := 0; i < d.concurrency; i++ {
		d.wg.Add(1)
		go d.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (d *Dispatcher) workerLoop(ctx context.Context, workerNum int) {
	defer d.wg.Done()

	workerName := fmt.Sprintf("%s-%d", d.workerID, workerNum)
	d.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-d.stopChan:
			d.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			d.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-d.jobsChan:
			if !ok {
				return
			}

			d.logger.Info("Worker received job",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.JobID),
				slog.Uint64("delivery_tag", msg.DeliveryTag),
			)

			err := d.processJob(ctx, msg)

			if err != nil {
				requeue := d.shouldRequeue(err)
				d.logger.Error("Job processing failed",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.JobID),
					slog.Bool("requeue", requeue),
					slog.String("error", err.Error()),
				)
				if nackErr := d.rabbitClient.Nack(msg.DeliveryTag, requeue); nackErr != nil {
					d.logger.Error("Failed to NACK message",
						slog.String("worker_name", workerName),
						slog.String("job_id", msg.JobID),
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			if ackErr := d.rabbitClient.Ack(msg.DeliveryTag); ackErr != nil {
				d.logger.Error("Failed to ACK message",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.JobID),
					slog.String("error", ackErr.Error()),
				)
			}
		}
	}
}

// shouldRequeue decides whether a failed delivery goes back to the
// queue. Only transient infrastructure failures requeue; job-level
// outcomes (failed, retried, stale) are already recorded in the store
// and must not redeliver.
func (d *Dispatcher) shouldRequeue(err error) bool {
	if errors.Is(err, lifecycle.ErrAlreadyClaimed) || errors.Is(err, lifecycle.ErrNotFound) {
		return false
	}
	return errors.Is(err, errTransient)
}
