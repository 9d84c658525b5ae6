package notification

import (
	"context"
	"fmt"
)

// DefaultNatsSubject is the subject balance changes are published on.
const DefaultNatsSubject = "tokenledger.balance.changed"

// Publisher is the subset of *nats.Conn used for fire-and-forget publishing.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NatsNotifier publishes balance changes on a NATS subject.
type NatsNotifier struct {
	conn    Publisher
	subject string
}

// NewNatsNotifier wraps a NATS connection.
func NewNatsNotifier(conn Publisher, subject string) *NatsNotifier {
	if subject == "" {
		subject = DefaultNatsSubject
	}
	return &NatsNotifier{conn: conn, subject: subject}
}

func (n *NatsNotifier) Send(ctx context.Context, message Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := encode(message)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}
