package event

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"referral-service/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
)

const brokerConnectionName = "referral-service"

// RabbitMQConnection is the broker link shared by the notification publisher and the ingestion
// consumer. Channel carries publishes only. The consumer opens its own channel so a prefetch or
// nack on it never stalls notifications.
type RabbitMQConnection struct {
	Connection *amqp.Connection
	Channel    *amqp.Channel
}

func brokerURI(cfg config.RabbitMQConfig) (string, error) {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		return "", fmt.Errorf("invalid rabbitmq port %q: %w", cfg.Port, err)
	}
	// amqp.URI escapes credentials, so passwords with '@' or '/' survive.
	return amqp.URI{
		Scheme:   "amqp",
		Host:     cfg.Host,
		Port:     port,
		Username: cfg.Username,
		Password: cfg.Password,
		Vhost:    "/",
	}.String(), nil
}

func ConnectRabbitMQ(cfg config.RabbitMQConfig) (*RabbitMQConnection, error) {
	uri, err := brokerURI(cfg)
	if err != nil {
		return nil, err
	}

	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(brokerConnectionName)
	conn, err := amqp.DialConfig(uri, amqp.Config{
		Heartbeat:  10 * time.Second,
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open publish channel: %w", err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if reason, ok := <-closed; ok && reason != nil {
			slog.Error("RabbitMQ connection lost, notifications and queued ingestion stop until restart",
				"code", reason.Code, "reason", reason.Reason)
		}
	}()

	slog.Info("Connected to RabbitMQ", "host", cfg.Host, "port", cfg.Port, "connection_name", brokerConnectionName)
	return &RabbitMQConnection{Connection: conn, Channel: ch}, nil
}

// Healthy is false for a nil connection, which main passes around when the broker was down at boot.
func (r *RabbitMQConnection) Healthy() bool {
	return r != nil && r.Connection != nil && !r.Connection.IsClosed()
}

func (r *RabbitMQConnection) Close() error {
	if r.Channel != nil {
		if err := r.Channel.Close(); err != nil {
			slog.Warn("Publish channel already closed", "error", err)
		}
	}
	if r.Connection == nil {
		return nil
	}
	if err := r.Connection.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("failed to close RabbitMQ connection: %w", err)
	}
	slog.Info("RabbitMQ connection closed")
	return nil
}
