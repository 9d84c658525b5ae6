package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentsaas/tokenledger/internal/ledger"
	"github.com/agentsaas/tokenledger/internal/notification"
)

const (
	StatusCredited  = "credited"
	StatusDuplicate = "duplicate"
	StatusIgnored   = "ignored"
)

// Service credits purchased tokens for confirmed payments.
type Service struct {
	ledger   ledger.Ledger
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService prepares a purchase service.
func NewService(l ledger.Ledger, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{ledger: l, notifier: notifier, logger: logger}
}

// Outcome is the domain result of applying a payment event.
type Outcome struct {
	Status  string
	EntryID string
	Balance int64
}

// Apply credits the payment's units exactly once per event id. Duplicates and
// non-success event types are reported through Outcome.Status, not as errors.
func (s *Service) Apply(ctx context.Context, evt PaymentConfirmed) (Outcome, error) {
	if evt.EventID == "" {
		return Outcome{}, fmt.Errorf("%w: event id is required", ledger.ErrInvalidArgument)
	}
	if evt.EventType != "" && evt.EventType != EventTypeSucceeded {
		if s.logger != nil {
			s.logger.Info("payment event ignored",
				slog.String("event_id", evt.EventID),
				slog.String("event_type", evt.EventType),
			)
		}
		return Outcome{Status: StatusIgnored}, nil
	}

	res, err := s.ledger.CreditForPayment(ctx, ledger.CreditInput{
		AccountID:       evt.AccountID,
		Units:           evt.Units,
		ExternalEventID: evt.EventID,
		PaymentRef:      evt.PaymentRef,
		Metadata:        evt.Metadata,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateEvent) {
			if s.logger != nil {
				s.logger.Info("payment event already applied",
					slog.String("event_id", evt.EventID),
					slog.String("account_id", evt.AccountID),
				)
			}
			return Outcome{Status: StatusDuplicate, EntryID: res.EntryID, Balance: res.Balance}, nil
		}
		return Outcome{}, err
	}

	if s.logger != nil {
		s.logger.Info("payment credited",
			slog.String("event_id", evt.EventID),
			slog.String("account_id", evt.AccountID),
			slog.Int64("units", evt.Units),
			slog.Int64("balance", res.Balance),
		)
	}
	if s.notifier != nil {
		msg := notification.Message{
			Kind:      notification.KindTokensPurchased,
			AccountID: evt.AccountID,
			EntryID:   res.EntryID,
			Delta:     evt.Units,
			Balance:   res.Balance,
			Reference: evt.PaymentRef,
			At:        time.Now().UTC(),
		}
		if err := s.notifier.Send(ctx, msg); err != nil && s.logger != nil {
			s.logger.Warn("notification failed", slog.String("event_id", evt.EventID), slog.Any("error", err))
		}
	}

	return Outcome{Status: StatusCredited, EntryID: res.EntryID, Balance: res.Balance}, nil
}
