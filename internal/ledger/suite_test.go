package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
)

// runLedgerSuite exercises the behavior every Ledger backend must share.
func runLedgerSuite(t *testing.T, newLedger func(t *testing.T) Ledger) {
	t.Run("ConcurrentDebitsNeverOverdraw", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		acct := newAccount(t, l)
		if _, err := Seed(ctx, l, acct, 5); err != nil {
			t.Fatalf("seed: %v", err)
		}

		const workers = 10
		var (
			wg           sync.WaitGroup
			mu           sync.Mutex
			succeeded    int
			insufficient int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := l.DebitIfSufficient(ctx, acct, map[string]any{"request": i})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case errors.Is(err, ErrInsufficientBalance):
					insufficient++
				default:
					t.Errorf("debit %d failed: %v", i, err)
				}
			}(i)
		}
		wg.Wait()

		if succeeded != 5 || insufficient != 5 {
			t.Fatalf("expected 5 successes and 5 insufficient, got %d and %d", succeeded, insufficient)
		}
		bal, err := l.Balance(ctx, acct)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if bal != 0 {
			t.Fatalf("expected balance 0, got %d", bal)
		}
		entries, err := l.Entries(ctx, acct, Page{Limit: MaxPageSize})
		if err != nil {
			t.Fatalf("entries: %v", err)
		}
		var debits int
		for _, e := range entries {
			if e.Kind == KindDebit {
				debits++
			}
		}
		if debits != 5 {
			t.Fatalf("expected 5 debit entries, got %d", debits)
		}
	})

	t.Run("InsufficientBalanceLeavesStateUntouched", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		acct := newAccount(t, l)

		res, err := l.DebitIfSufficient(ctx, acct, nil)
		if !errors.Is(err, ErrInsufficientBalance) {
			t.Fatalf("expected insufficient balance, got %v", err)
		}
		if res.Balance != 0 || res.EntryID != "" {
			t.Fatalf("unexpected result on insufficient balance: %+v", res)
		}
		entries, err := l.Entries(ctx, acct, Page{})
		if err != nil {
			t.Fatalf("entries: %v", err)
		}
		if len(entries) != 0 {
			t.Fatalf("expected no entries, got %d", len(entries))
		}
	})

	t.Run("CreditIsIdempotentPerEvent", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		acct := newAccount(t, l)
		eventID := "evt_" + uuid.NewString()

		in := CreditInput{AccountID: acct, Units: 500, ExternalEventID: eventID, PaymentRef: "pi_1"}
		first, err := l.CreditForPayment(ctx, in)
		if err != nil {
			t.Fatalf("first credit: %v", err)
		}
		if first.Balance != 500 {
			t.Fatalf("expected balance 500, got %d", first.Balance)
		}

		second, err := l.CreditForPayment(ctx, in)
		if !errors.Is(err, ErrDuplicateEvent) {
			t.Fatalf("expected duplicate event, got %v", err)
		}
		if second.EntryID != first.EntryID {
			t.Fatalf("duplicate should report original entry %s, got %s", first.EntryID, second.EntryID)
		}
		if second.Balance != 500 {
			t.Fatalf("duplicate should not change balance, got %d", second.Balance)
		}

		entries, err := l.Entries(ctx, acct, Page{})
		if err != nil {
			t.Fatalf("entries: %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("expected exactly one credit entry, got %d", len(entries))
		}
		if entries[0].ExternalEventID != eventID || entries[0].ExternalPaymentRef != "pi_1" {
			t.Fatalf("unexpected credit entry: %+v", entries[0])
		}
	})

	t.Run("ConcurrentDuplicateCreditsApplyOnce", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		acct := newAccount(t, l)
		eventID := "evt_" + uuid.NewString()

		const workers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			applied int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.CreditForPayment(ctx, CreditInput{AccountID: acct, Units: 100, ExternalEventID: eventID})
				if err != nil && !errors.Is(err, ErrDuplicateEvent) {
					t.Errorf("credit failed: %v", err)
					return
				}
				if err == nil {
					mu.Lock()
					applied++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if applied != 1 {
			t.Fatalf("expected exactly one applied credit, got %d", applied)
		}
		bal, err := l.Balance(ctx, acct)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if bal != 100 {
			t.Fatalf("expected balance 100, got %d", bal)
		}
	})

	t.Run("SequentialDebitsMatchEntries", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		acct := newAccount(t, l)
		if _, err := Seed(ctx, l, acct, 100); err != nil {
			t.Fatalf("seed: %v", err)
		}

		for i := 0; i < 100; i++ {
			res, err := l.DebitIfSufficient(ctx, acct, nil)
			if err != nil {
				t.Fatalf("debit %d: %v", i, err)
			}
			if want := int64(99 - i); res.Balance != want {
				t.Fatalf("debit %d: expected balance %d, got %d", i, want, res.Balance)
			}
		}
		if _, err := l.DebitIfSufficient(ctx, acct, nil); !errors.Is(err, ErrInsufficientBalance) {
			t.Fatalf("expected insufficient balance after draining, got %v", err)
		}

		assertBalanceMatchesEntries(t, l, acct)
	})

	t.Run("CreditThenDebitScenario", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		acct := newAccount(t, l)
		eventID := "evt_1_" + uuid.NewString()

		if _, err := l.CreditForPayment(ctx, CreditInput{AccountID: acct, Units: 3, ExternalEventID: eventID}); err != nil {
			t.Fatalf("credit: %v", err)
		}
		if _, err := l.CreditForPayment(ctx, CreditInput{AccountID: acct, Units: 3, ExternalEventID: eventID}); !errors.Is(err, ErrDuplicateEvent) {
			t.Fatalf("expected duplicate event, got %v", err)
		}
		for i := 0; i < 3; i++ {
			if _, err := l.DebitIfSufficient(ctx, acct, map[string]any{"agent": "research"}); err != nil {
				t.Fatalf("debit %d: %v", i, err)
			}
		}
		if _, err := l.DebitIfSufficient(ctx, acct, nil); !errors.Is(err, ErrInsufficientBalance) {
			t.Fatalf("expected insufficient balance, got %v", err)
		}

		entries, err := l.Entries(ctx, acct, Page{})
		if err != nil {
			t.Fatalf("entries: %v", err)
		}
		if len(entries) != 4 {
			t.Fatalf("expected 4 entries, got %d", len(entries))
		}
		if entries[0].Kind != KindDebit || entries[len(entries)-1].Kind != KindCredit {
			t.Fatalf("expected newest-first ordering, got %s first and %s last", entries[0].Kind, entries[len(entries)-1].Kind)
		}
		if entries[0].Metadata["agent"] != "research" {
			t.Fatalf("expected metadata to round-trip, got %v", entries[0].Metadata)
		}
		assertBalanceMatchesEntries(t, l, acct)
	})

	t.Run("InvalidCredits", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		acct := newAccount(t, l)

		cases := []CreditInput{
			{AccountID: acct, Units: 0, ExternalEventID: "evt_zero_" + uuid.NewString()},
			{AccountID: acct, Units: -5, ExternalEventID: "evt_neg_" + uuid.NewString()},
			{AccountID: acct, Units: 5},
			{Units: 5, ExternalEventID: "evt_noacct_" + uuid.NewString()},
		}
		for i, in := range cases {
			if _, err := l.CreditForPayment(ctx, in); !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("case %d: expected invalid argument, got %v", i, err)
			}
		}
		bal, err := l.Balance(ctx, acct)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if bal != 0 {
			t.Fatalf("invalid credits must not change balance, got %d", bal)
		}
	})

	t.Run("UnknownAccount", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		ghost := "ghost-" + uuid.NewString()

		if _, err := l.Balance(ctx, ghost); !errors.Is(err, ErrAccountNotFound) {
			t.Fatalf("balance: expected account not found, got %v", err)
		}
		if _, err := l.DebitIfSufficient(ctx, ghost, nil); !errors.Is(err, ErrAccountNotFound) {
			t.Fatalf("debit: expected account not found, got %v", err)
		}
		eventID := "evt_ghost_" + uuid.NewString()
		if _, err := l.CreditForPayment(ctx, CreditInput{AccountID: ghost, Units: 1, ExternalEventID: eventID}); !errors.Is(err, ErrAccountNotFound) {
			t.Fatalf("credit: expected account not found, got %v", err)
		}
		if _, err := l.Entries(ctx, ghost, Page{}); !errors.Is(err, ErrAccountNotFound) {
			t.Fatalf("entries: expected account not found, got %v", err)
		}

		// A failed credit must not burn the event id.
		acct := newAccount(t, l)
		if _, err := l.CreditForPayment(ctx, CreditInput{AccountID: acct, Units: 1, ExternalEventID: eventID}); err != nil {
			t.Fatalf("retry with same event id on a real account: %v", err)
		}
	})

	t.Run("CreateAccountTwice", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		acct := newAccount(t, l)
		if err := l.CreateAccount(ctx, acct); !errors.Is(err, ErrAccountExists) {
			t.Fatalf("expected account exists, got %v", err)
		}
	})

	t.Run("DeleteCascadesEntries", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		acct := newAccount(t, l)
		eventID := "evt_del_" + uuid.NewString()
		if _, err := l.CreditForPayment(ctx, CreditInput{AccountID: acct, Units: 2, ExternalEventID: eventID}); err != nil {
			t.Fatalf("credit: %v", err)
		}
		if _, err := l.DebitIfSufficient(ctx, acct, nil); err != nil {
			t.Fatalf("debit: %v", err)
		}

		if err := l.DeleteAccount(ctx, acct); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := l.Balance(ctx, acct); !errors.Is(err, ErrAccountNotFound) {
			t.Fatalf("expected deleted account to be gone, got %v", err)
		}
		if err := l.DeleteAccount(ctx, acct); !errors.Is(err, ErrAccountNotFound) {
			t.Fatalf("second delete: expected account not found, got %v", err)
		}

		// Recreating the account starts from zero with an empty history.
		if err := l.CreateAccount(ctx, acct); err != nil {
			t.Fatalf("recreate: %v", err)
		}
		entries, err := l.Entries(ctx, acct, Page{})
		if err != nil {
			t.Fatalf("entries: %v", err)
		}
		if len(entries) != 0 {
			t.Fatalf("expected empty history after recreate, got %d entries", len(entries))
		}
		if _, err := l.CreditForPayment(ctx, CreditInput{AccountID: acct, Units: 2, ExternalEventID: eventID}); err != nil {
			t.Fatalf("event id should be reusable after cascade delete: %v", err)
		}
	})

	t.Run("EntriesPaging", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		acct := newAccount(t, l)
		if _, err := Seed(ctx, l, acct, 10); err != nil {
			t.Fatalf("seed: %v", err)
		}
		for i := 0; i < 10; i++ {
			if _, err := l.DebitIfSufficient(ctx, acct, map[string]any{"seq": fmt.Sprint(i)}); err != nil {
				t.Fatalf("debit %d: %v", i, err)
			}
		}

		first, err := l.Entries(ctx, acct, Page{Limit: 4})
		if err != nil {
			t.Fatalf("first page: %v", err)
		}
		second, err := l.Entries(ctx, acct, Page{Limit: 4, Offset: 4})
		if err != nil {
			t.Fatalf("second page: %v", err)
		}
		if len(first) != 4 || len(second) != 4 {
			t.Fatalf("expected two pages of 4, got %d and %d", len(first), len(second))
		}
		if first[0].Metadata["seq"] != "9" || second[0].Metadata["seq"] != "5" {
			t.Fatalf("unexpected page heads: %v, %v", first[0].Metadata, second[0].Metadata)
		}
		tail, err := l.Entries(ctx, acct, Page{Limit: 10, Offset: 8})
		if err != nil {
			t.Fatalf("tail page: %v", err)
		}
		if len(tail) != 3 || tail[len(tail)-1].Kind != KindCredit {
			t.Fatalf("expected 3 trailing entries ending with the seed credit, got %d", len(tail))
		}
	})
}

func newAccount(t *testing.T, l Ledger) string {
	t.Helper()
	id := "acct-" + uuid.NewString()
	if err := l.CreateAccount(context.Background(), id); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return id
}

func assertBalanceMatchesEntries(t *testing.T, l Ledger, accountID string) {
	t.Helper()
	ctx := context.Background()
	bal, err := l.Balance(ctx, accountID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	var sum int64
	for offset := 0; ; offset += MaxPageSize {
		page, err := l.Entries(ctx, accountID, Page{Limit: MaxPageSize, Offset: offset})
		if err != nil {
			t.Fatalf("entries: %v", err)
		}
		for _, e := range page {
			sum += e.Amount
		}
		if len(page) < MaxPageSize {
			break
		}
	}
	if sum != bal {
		t.Fatalf("balance %d does not match entry sum %d", bal, sum)
	}
	if bal < 0 {
		t.Fatalf("balance went negative: %d", bal)
	}
}
