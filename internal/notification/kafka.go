package notification

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier appends balance changes to a Kafka topic keyed by account,
// so changes for one account stay ordered within a partition.
type KafkaNotifier struct {
	writer MessageWriter
}

// NewKafkaWriter builds a writer for topic on the given brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
}

// NewKafkaNotifier wraps a writer.
func NewKafkaNotifier(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

func (n *KafkaNotifier) Send(ctx context.Context, message Message) error {
	payload, err := encode(message)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(message.AccountID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
