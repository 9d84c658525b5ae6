package infra

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
)

// NewNatsConn connects to NATS, reconnecting indefinitely after drops.
func NewNatsConn(url, name string) (*nats.Conn, error) {
	if url == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// RabbitMQ holds a connection and the channel opened on it.
type RabbitMQ struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
}

// NewRabbitMQ dials the broker and opens a channel.
func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if url == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	return &RabbitMQ{Conn: conn, Channel: ch}, nil
}

// Close closes the channel and then the connection.
func (r *RabbitMQ) Close() error {
	if err := r.Channel.Close(); err != nil {
		_ = r.Conn.Close()
		return err
	}
	return r.Conn.Close()
}
