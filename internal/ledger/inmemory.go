package ledger

import (
	"context"
	"fmt"
	"maps"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memAccount struct {
	mu      sync.Mutex
	balance int64
	entries []Entry
	closed  bool
}

type inMemoryLedger struct {
	mu       sync.RWMutex
	accounts map[string]*memAccount

	// events maps an external event id to the entry that applied it. An empty
	// value marks a credit that reserved the id and has not committed yet.
	eventsMu sync.Mutex
	events   map[string]string
}

// NewInMemory creates a concurrency-safe in-memory ledger. Mutations on one
// account are serialized by that account's mutex; accounts never contend.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		accounts: make(map[string]*memAccount),
		events:   make(map[string]string),
	}
}

func (l *inMemoryLedger) CreateAccount(_ context.Context, accountID string) error {
	if accountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidArgument)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.accounts[accountID]; exists {
		return ErrAccountExists
	}
	l.accounts[accountID] = &memAccount{}
	return nil
}

func (l *inMemoryLedger) DeleteAccount(_ context.Context, accountID string) error {
	l.mu.Lock()
	acct, ok := l.accounts[accountID]
	if !ok {
		l.mu.Unlock()
		return ErrAccountNotFound
	}
	delete(l.accounts, accountID)
	acct.mu.Lock()
	acct.closed = true
	released := make([]string, 0, len(acct.entries))
	for _, e := range acct.entries {
		if e.ExternalEventID != "" {
			released = append(released, e.ExternalEventID)
		}
	}
	acct.entries = nil
	acct.mu.Unlock()
	l.mu.Unlock()

	// Entries cascade with the account, so their event ids become free again.
	l.eventsMu.Lock()
	for _, id := range released {
		delete(l.events, id)
	}
	l.eventsMu.Unlock()
	return nil
}

func (l *inMemoryLedger) Balance(_ context.Context, accountID string) (int64, error) {
	acct, err := l.account(accountID)
	if err != nil {
		return 0, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if acct.closed {
		return 0, ErrAccountNotFound
	}
	return acct.balance, nil
}

func (l *inMemoryLedger) Entries(_ context.Context, accountID string, page Page) ([]Entry, error) {
	page = page.Normalize()
	acct, err := l.account(accountID)
	if err != nil {
		return nil, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if acct.closed {
		return nil, ErrAccountNotFound
	}

	out := make([]Entry, 0, page.Limit)
	for i := len(acct.entries) - 1 - page.Offset; i >= 0 && len(out) < page.Limit; i-- {
		e := acct.entries[i]
		e.Metadata = maps.Clone(e.Metadata)
		out = append(out, e)
	}
	return out, nil
}

func (l *inMemoryLedger) DebitIfSufficient(ctx context.Context, accountID string, metadata map[string]any) (DebitResult, error) {
	acct, err := l.account(accountID)
	if err != nil {
		return DebitResult{}, err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()
	if acct.closed {
		return DebitResult{}, ErrAccountNotFound
	}
	if err := ctx.Err(); err != nil {
		return DebitResult{}, err
	}
	if acct.balance < DebitUnits {
		return DebitResult{Balance: acct.balance}, ErrInsufficientBalance
	}

	entry := Entry{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Kind:      KindDebit,
		Amount:    -DebitUnits,
		Units:     DebitUnits,
		Metadata:  maps.Clone(metadata),
		CreatedAt: time.Now().UTC(),
	}
	acct.balance -= DebitUnits
	acct.entries = append(acct.entries, entry)

	return DebitResult{EntryID: entry.ID, Balance: acct.balance}, nil
}

func (l *inMemoryLedger) CreditForPayment(ctx context.Context, input CreditInput) (CreditResult, error) {
	if err := input.Validate(); err != nil {
		return CreditResult{}, err
	}

	// Reserving the id is the insert-or-detect step; a concurrent delivery of
	// the same event loses here and never touches the account.
	if existing, reserved := l.reserveEvent(input.ExternalEventID); !reserved {
		res := CreditResult{EntryID: existing}
		if bal, err := l.Balance(ctx, input.AccountID); err == nil {
			res.Balance = bal
		}
		return res, ErrDuplicateEvent
	}

	acct, err := l.account(input.AccountID)
	if err != nil {
		l.releaseEvent(input.ExternalEventID)
		return CreditResult{}, err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()
	if acct.closed {
		l.releaseEvent(input.ExternalEventID)
		return CreditResult{}, ErrAccountNotFound
	}
	if err := ctx.Err(); err != nil {
		l.releaseEvent(input.ExternalEventID)
		return CreditResult{}, err
	}
	if input.Units > math.MaxInt64-acct.balance {
		l.releaseEvent(input.ExternalEventID)
		return CreditResult{}, fmt.Errorf("%w: balance would overflow", ErrInvalidArgument)
	}

	entry := Entry{
		ID:                 uuid.NewString(),
		AccountID:          input.AccountID,
		Kind:               KindCredit,
		Amount:             input.Units,
		Units:              input.Units,
		ExternalEventID:    input.ExternalEventID,
		ExternalPaymentRef: input.PaymentRef,
		Metadata:           maps.Clone(input.Metadata),
		CreatedAt:          time.Now().UTC(),
	}
	acct.balance += input.Units
	acct.entries = append(acct.entries, entry)
	l.commitEvent(input.ExternalEventID, entry.ID)

	return CreditResult{EntryID: entry.ID, Balance: acct.balance}, nil
}

func (l *inMemoryLedger) account(accountID string) (*memAccount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acct, nil
}

func (l *inMemoryLedger) reserveEvent(eventID string) (string, bool) {
	l.eventsMu.Lock()
	defer l.eventsMu.Unlock()
	if existing, taken := l.events[eventID]; taken {
		return existing, false
	}
	l.events[eventID] = ""
	return "", true
}

func (l *inMemoryLedger) releaseEvent(eventID string) {
	l.eventsMu.Lock()
	defer l.eventsMu.Unlock()
	if l.events[eventID] == "" {
		delete(l.events, eventID)
	}
}

func (l *inMemoryLedger) commitEvent(eventID, entryID string) {
	l.eventsMu.Lock()
	defer l.eventsMu.Unlock()
	l.events[eventID] = entryID
}
