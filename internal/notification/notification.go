package notification

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

const (
	// KindTokensConsumed is emitted after a successful usage debit.
	KindTokensConsumed = "tokens.consumed"
	// KindTokensExhausted is emitted when a debit is refused for lack of balance.
	KindTokensExhausted = "tokens.exhausted"
	// KindTokensRefunded is emitted when a consumed token is given back.
	KindTokensRefunded = "tokens.refunded"
	// KindTokensPurchased is emitted after a confirmed payment is credited.
	KindTokensPurchased = "tokens.purchased"
)

// Message describes a balance change for downstream consumers.
type Message struct {
	Kind      string    `json:"kind"`
	AccountID string    `json:"account_id"`
	EntryID   string    `json:"entry_id,omitempty"`
	Delta     int64     `json:"delta"`
	Balance   int64     `json:"balance"`
	Reference string    `json:"reference,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("account_id", message.AccountID),
		slog.String("entry_id", message.EntryID),
		slog.Int64("delta", message.Delta),
		slog.Int64("balance", message.Balance),
	)
	return nil
}

// Multi fans a message out to every notifier and joins their failures.
type Multi []Notifier

// Send delivers to all notifiers even when some of them fail.
func (m Multi) Send(ctx context.Context, message Message) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func encode(message Message) ([]byte, error) {
	if message.At.IsZero() {
		message.At = time.Now().UTC()
	}
	return json.Marshal(message)
}
