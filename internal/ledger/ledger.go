package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAccountNotFound is returned when a mutation or read references an
	// account that was never provisioned (or has since been deleted).
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when provisioning an account id that is already taken.
	ErrAccountExists = errors.New("account already exists")

	// ErrInsufficientBalance occurs when a debit would take the balance below zero.
	// It is an expected outcome and must not be retried.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateEvent indicates the external event id was already applied.
	// Callers treat it as success: the credit already happened.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrInvalidArgument reports a caller programming error such as a
	// non-positive credit or a missing idempotency key.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Kind classifies a ledger entry.
type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

const (
	// DebitUnits is the fixed magnitude of every usage debit.
	DebitUnits int64 = 1

	// DefaultPageSize is used when a history query does not specify a limit.
	DefaultPageSize = 50
	// MaxPageSize caps the number of entries returned by a single history query.
	MaxPageSize = 200
)

// Entry is an immutable record of one balance-affecting event.
type Entry struct {
	ID                 string
	AccountID          string
	Kind               Kind
	Amount             int64
	Units              int64
	ExternalEventID    string
	ExternalPaymentRef string
	Metadata           map[string]any
	CreatedAt          time.Time
}

// Page selects a window of the most recent entries.
type Page struct {
	Limit  int
	Offset int
}

// Normalize applies the default and maximum page sizes.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// DebitResult captures the outcome of a usage debit. On ErrInsufficientBalance
// Balance still carries the (unchanged) current balance.
type DebitResult struct {
	EntryID string
	Balance int64
}

// CreditInput describes a confirmed payment to apply.
type CreditInput struct {
	AccountID       string
	Units           int64
	ExternalEventID string
	PaymentRef      string
	Metadata        map[string]any
}

// Validate rejects inputs that can never be applied.
func (in CreditInput) Validate() error {
	switch {
	case in.AccountID == "":
		return fmt.Errorf("%w: account id is required", ErrInvalidArgument)
	case in.ExternalEventID == "":
		return fmt.Errorf("%w: external event id is required", ErrInvalidArgument)
	case in.Units <= 0:
		return fmt.Errorf("%w: units must be positive", ErrInvalidArgument)
	}
	return nil
}

// CreditResult captures the outcome of a payment credit.
type CreditResult struct {
	EntryID string
	Balance int64
}

// Ledger is the balance-mutation engine. Implementations serialize mutations
// per account and never partially apply one.
type Ledger interface {
	CreateAccount(ctx context.Context, accountID string) error
	DeleteAccount(ctx context.Context, accountID string) error
	Balance(ctx context.Context, accountID string) (int64, error)
	Entries(ctx context.Context, accountID string, page Page) ([]Entry, error)
	DebitIfSufficient(ctx context.Context, accountID string, metadata map[string]any) (DebitResult, error)
	CreditForPayment(ctx context.Context, input CreditInput) (CreditResult, error)
}
