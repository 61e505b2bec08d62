package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"referral-service/internal/models"
	"referral-service/internal/utils"
	"referral-service/internal/worker"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageIngester runs the ingestion pipeline for one clinic message.
type MessageIngester interface {
	IngestMessage(ctx context.Context, message models.SourceMessage) models.IngestionSummary
}

// IngestionConsumer feeds clinic messages from RabbitMQ into the worker pool.
// Deliveries are acked only after the pipeline returned, so a crash redelivers them;
// the report keys make the second run a no-op.
type IngestionConsumer struct {
	conn     *RabbitMQConnection
	ingester MessageIngester
	pool     *worker.WorkingPool
	prefetch int
}

func NewIngestionConsumer(conn *RabbitMQConnection, ingester MessageIngester, pool *worker.WorkingPool) *IngestionConsumer {
	return &IngestionConsumer{
		conn:     conn,
		ingester: ingester,
		pool:     pool,
		prefetch: pool.NumWorkers * 2,
	}
}

// Start consumes until ctx is done. It returns an error when the broker closes the delivery channel.
func (c *IngestionConsumer) Start(ctx context.Context) error {
	ch, err := c.conn.Connection.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		ClinicReportMessagesQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	msgs, err := ch.Consume(
		ClinicReportMessagesQueue,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (acked after ingestion)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	slog.Info("Ingestion consumer started", "queue", ClinicReportMessagesQueue, "prefetch", c.prefetch)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Ingestion consumer stopped")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("ingestion delivery channel closed")
			}
			c.dispatch(ctx, msg)
		}
	}
}

// dispatch decodes a delivery and hands it to the pool. Malformed messages are dropped.
func (c *IngestionConsumer) dispatch(ctx context.Context, msg amqp.Delivery) {
	var message models.SourceMessage
	if err := json.Unmarshal(msg.Body, &message); err != nil {
		slog.Error("failed to unmarshal clinic message", "error", err)
		nack(msg, false)
		return
	}
	if fieldErrs := utils.ValidateStruct(message); fieldErrs != nil {
		slog.Error("invalid clinic message", "message_id", message.MessageID, "fields", fieldErrs)
		nack(msg, false)
		return
	}

	job := func(jobCtx context.Context) error {
		c.process(jobCtx, msg, message)
		return nil
	}
	if err := c.pool.SubmitJob(ctx, "ingest:"+message.MessageID, job); err != nil {
		slog.Warn("could not queue clinic message", "message_id", message.MessageID, "error", err)
		nack(msg, true)
	}
}

// process runs the pipeline. A message with any failed patient is retried once; the retry
// resumes it and skips the reports already stored.
func (c *IngestionConsumer) process(ctx context.Context, msg amqp.Delivery, message models.SourceMessage) {
	summary := c.ingester.IngestMessage(ctx, message)
	if summary.Errors > 0 && !msg.Redelivered {
		slog.Warn("clinic message failed, requeueing",
			"message_id", message.MessageID,
			"errors", summary.Errors)
		nack(msg, true)
		return
	}

	if err := msg.Ack(false); err != nil {
		slog.Error("failed to ack clinic message", "message_id", message.MessageID, "error", err)
		return
	}
	slog.Info("Clinic message processed",
		"message_id", message.MessageID,
		"created", summary.Created,
		"skipped", summary.Skipped,
		"errors", summary.Errors)
}

func nack(msg amqp.Delivery, requeue bool) {
	if err := msg.Nack(false, requeue); err != nil {
		slog.Error("failed to nack delivery", "delivery_tag", msg.DeliveryTag, "error", err)
	}
}
