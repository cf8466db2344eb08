package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"vocalis/internal/domain"
)

// setupConsumer configures QoS and returns the delivery channel.
func (d *Dispatcher) setupConsumer() (<-chan amqp.Delivery, error) {
	if err := d.rabbitClient.Qos(d.prefetchCount); err != nil {
		return nil, err
	}

	d.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", d.prefetchCount),
	)

	deliveries, err := d.rabbitClient.Consume(d.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return deliveries, nil
}

// startMessageDispatcher listens to deliveries and hands parsed job
// messages to the worker pool. Malformed messages are NACKed without
// requeue so they cannot loop forever.
func (d *Dispatcher) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	d.logger.Info("Message dispatcher started",
		slog.String("worker_id", d.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				d.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var msg domain.JobMessage
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				d.logger.Error("Failed to parse message JSON",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					d.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			if _, err := uuid.Parse(msg.JobID); err != nil {
				d.logger.Error("Invalid job_id in message",
					slog.String("job_id", msg.JobID),
					slog.String("error", err.Error()),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					d.logger.Error("Failed to NACK message with invalid job_id",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			msg.DeliveryTag = delivery.DeliveryTag

			select {
			case d.jobsChan <- &msg:
				d.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID),
					slog.Uint64("delivery_tag", msg.DeliveryTag),
				)
			case <-ctx.Done():
				d.logger.Info("Message dispatcher stopped while dispatching job")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					d.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}
