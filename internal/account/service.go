package account

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/agentsaas/tokenledger/internal/ledger"
)

// Service provisions token accounts and serves balance reads from the ledger.
type Service struct {
	ledger ledger.Ledger
	logger *slog.Logger
}

// NewService builds an account service instance.
func NewService(l ledger.Ledger, logger *slog.Logger) *Service {
	return &Service{ledger: l, logger: logger}
}

// Create provisions an account with a zero balance.
func (s *Service) Create(ctx context.Context, accountID string) (Account, error) {
	if err := ValidateID(accountID); err != nil {
		return Account{}, err
	}
	if err := s.ledger.CreateAccount(ctx, accountID); err != nil {
		return Account{}, err
	}
	if s.logger != nil {
		s.logger.Info("account created", slog.String("account_id", accountID))
	}
	return Account{ID: accountID, CreatedAt: time.Now().UTC()}, nil
}

// Delete removes the account together with its entry history.
func (s *Service) Delete(ctx context.Context, accountID string) error {
	if err := s.ledger.DeleteAccount(ctx, accountID); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info("account deleted", slog.String("account_id", accountID))
	}
	return nil
}

// Balance returns the current balance for the account.
func (s *Service) Balance(ctx context.Context, accountID string) (Balance, error) {
	amount, err := s.ledger.Balance(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{AccountID: accountID, Amount: amount, AsOf: time.Now().UTC()}, nil
}

// History returns a newest-first page of the account's entries.
func (s *Service) History(ctx context.Context, accountID string, page ledger.Page) ([]ledger.Entry, error) {
	return s.ledger.Entries(ctx, accountID, page.Normalize())
}

// ValidateID rejects identifiers that cannot be used as account keys.
func ValidateID(accountID string) error {
	switch {
	case accountID == "":
		return fmt.Errorf("%w: account id is required", ledger.ErrInvalidArgument)
	case len(accountID) > MaxIDLength:
		return fmt.Errorf("%w: account id exceeds %d bytes", ledger.ErrInvalidArgument, MaxIDLength)
	case strings.IndexFunc(accountID, unicode.IsSpace) >= 0:
		return fmt.Errorf("%w: account id must not contain whitespace", ledger.ErrInvalidArgument)
	}
	return nil
}
