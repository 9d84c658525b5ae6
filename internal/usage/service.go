package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentsaas/tokenledger/internal/ledger"
	"github.com/agentsaas/tokenledger/internal/notification"
)

// Service charges one token per billable action and gives it back when the
// action fails after the charge.
type Service struct {
	ledger   ledger.Ledger
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService constructs a usage service.
func NewService(l ledger.Ledger, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{ledger: l, notifier: notifier, logger: logger}
}

// RefundInput identifies the billable request whose token is being returned.
type RefundInput struct {
	AccountID string
	RequestID string
	Reason    string
}

// RefundEventID is the external event id a refund is recorded under. It is
// derived from the request so retrying a refund never returns two tokens.
func RefundEventID(accountID, requestID string) string {
	return "refund:" + accountID + ":" + requestID
}

// Consume debits one token for a billable action. ErrInsufficientBalance is
// returned with the current balance in the result.
func (s *Service) Consume(ctx context.Context, accountID string, metadata map[string]any) (ledger.DebitResult, error) {
	res, err := s.ledger.DebitIfSufficient(ctx, accountID, metadata)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			s.notify(ctx, notification.Message{
				Kind:      notification.KindTokensExhausted,
				AccountID: accountID,
				Balance:   res.Balance,
			})
		}
		return res, err
	}

	s.notify(ctx, notification.Message{
		Kind:      notification.KindTokensConsumed,
		AccountID: accountID,
		EntryID:   res.EntryID,
		Delta:     -ledger.DebitUnits,
		Balance:   res.Balance,
	})
	return res, nil
}

// Refund returns one token for a request that failed after being charged.
// Repeating a refund for the same request yields ledger.ErrDuplicateEvent.
func (s *Service) Refund(ctx context.Context, input RefundInput) (ledger.CreditResult, error) {
	if input.RequestID == "" {
		return ledger.CreditResult{}, fmt.Errorf("%w: request id is required", ledger.ErrInvalidArgument)
	}
	reason := input.Reason
	if reason == "" {
		reason = "unspecified"
	}

	res, err := s.ledger.CreditForPayment(ctx, ledger.CreditInput{
		AccountID:       input.AccountID,
		Units:           ledger.DebitUnits,
		ExternalEventID: RefundEventID(input.AccountID, input.RequestID),
		PaymentRef:      "refund:" + reason,
		Metadata: map[string]any{
			"request_id": input.RequestID,
			"reason":     reason,
		},
	})
	if err != nil {
		return res, err
	}

	s.notify(ctx, notification.Message{
		Kind:      notification.KindTokensRefunded,
		AccountID: input.AccountID,
		EntryID:   res.EntryID,
		Delta:     ledger.DebitUnits,
		Balance:   res.Balance,
		Reference: input.RequestID,
	})
	return res, nil
}

// notify is best effort: send failures are logged and never undo the mutation.
func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	msg.At = time.Now().UTC()
	if err := s.notifier.Send(ctx, msg); err != nil && s.logger != nil {
		s.logger.Warn("notification failed",
			slog.String("kind", msg.Kind),
			slog.String("account_id", msg.AccountID),
			slog.Any("error", err),
		)
	}
}
