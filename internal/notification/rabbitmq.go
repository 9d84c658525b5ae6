package notification

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultRabbitQueue is the durable queue balance changes are routed to.
const DefaultRabbitQueue = "tokenledger.balance"

// Channel is the subset of *amqp.Channel the notifier needs.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitNotifier pushes balance changes onto a durable RabbitMQ queue.
type RabbitNotifier struct {
	ch    Channel
	queue string
}

// NewRabbitNotifier declares the queue and returns a notifier bound to it.
func NewRabbitNotifier(ch Channel, queue string) (*RabbitNotifier, error) {
	if queue == "" {
		queue = DefaultRabbitQueue
	}
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &RabbitNotifier{ch: ch, queue: queue}, nil
}

func (n *RabbitNotifier) Send(ctx context.Context, message Message) error {
	payload, err := encode(message)
	if err != nil {
		return err
	}
	err = n.ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         message.Kind,
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}
