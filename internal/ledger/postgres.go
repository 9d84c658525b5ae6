package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	eventIDConstraint = "token_ledger_entries_external_event_id_key"
	balanceConstraint = "token_accounts_balance_non_negative"
	accountsPKey      = "token_accounts_pkey"
)

// PostgresLedger keeps balances in token_accounts and the audit trail in
// token_ledger_entries. Each mutation locks the account row with
// SELECT ... FOR UPDATE and commits the balance update and entry insert together.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// CreateAccount provisions a zero balance for accountID.
func (l *PostgresLedger) CreateAccount(ctx context.Context, accountID string) error {
	if accountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidArgument)
	}
	cmd, err := l.db.Exec(ctx, `INSERT INTO token_accounts (account_id) VALUES ($1)
        ON CONFLICT (account_id) DO NOTHING`, accountID)
	if err != nil {
		return translateError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountExists
	}
	return nil
}

// DeleteAccount removes the account; its entries go with it through the cascade.
func (l *PostgresLedger) DeleteAccount(ctx context.Context, accountID string) error {
	cmd, err := l.db.Exec(ctx, `DELETE FROM token_accounts WHERE account_id = $1`, accountID)
	if err != nil {
		return translateError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Balance returns the cached balance column; it is never recomputed from entries.
func (l *PostgresLedger) Balance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := l.db.QueryRow(ctx, `SELECT balance FROM token_accounts WHERE account_id = $1`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return balance, nil
}

// Entries returns the account's most recent entries first.
func (l *PostgresLedger) Entries(ctx context.Context, accountID string, page Page) ([]Entry, error) {
	page = page.Normalize()
	const query = `
        SELECT id, account_id, kind, amount, units, external_event_id, external_payment_ref, metadata, created_at
        FROM token_ledger_entries
        WHERE account_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2 OFFSET $3`

	rows, err := l.db.Query(ctx, query, accountID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0, page.Limit)
	for rows.Next() {
		var (
			id         uuid.UUID
			kind       string
			eventID    *string
			paymentRef *string
			rawMeta    []byte
			e          Entry
		)
		if err := rows.Scan(&id, &e.AccountID, &kind, &e.Amount, &e.Units, &eventID, &paymentRef, &rawMeta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ID = id.String()
		e.Kind = Kind(kind)
		if eventID != nil {
			e.ExternalEventID = *eventID
		}
		if paymentRef != nil {
			e.ExternalPaymentRef = *paymentRef
		}
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for entry %s: %w", e.ID, err)
			}
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		if _, err := l.Balance(ctx, accountID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// DebitIfSufficient removes one unit from the balance when at least one is available.
func (l *PostgresLedger) DebitIfSufficient(ctx context.Context, accountID string, metadata map[string]any) (DebitResult, error) {
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return DebitResult{}, err
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return DebitResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	balance, err := lockBalance(ctx, tx, accountID)
	if err != nil {
		return DebitResult{}, err
	}
	if balance < DebitUnits {
		return DebitResult{Balance: balance}, ErrInsufficientBalance
	}

	var newBalance int64
	if err := tx.QueryRow(ctx, `UPDATE token_accounts SET balance = balance - $2, updated_at = NOW()
        WHERE account_id = $1 RETURNING balance`, accountID, DebitUnits).Scan(&newBalance); err != nil {
		return DebitResult{Balance: balance}, translateError(err)
	}

	entryID := uuid.New()
	if _, err := tx.Exec(ctx, `INSERT INTO token_ledger_entries (id, account_id, kind, amount, units, metadata)
        VALUES ($1, $2, $3, $4, $5, $6)`, entryID, accountID, string(KindDebit), -DebitUnits, DebitUnits, meta); err != nil {
		return DebitResult{}, translateError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return DebitResult{}, translateError(err)
	}
	return DebitResult{EntryID: entryID.String(), Balance: newBalance}, nil
}

// CreditForPayment applies a confirmed payment exactly once per external event id.
// The partial unique index on external_event_id decides races between
// concurrent deliveries; the loser surfaces as ErrDuplicateEvent.
func (l *PostgresLedger) CreditForPayment(ctx context.Context, input CreditInput) (CreditResult, error) {
	if err := input.Validate(); err != nil {
		return CreditResult{}, err
	}
	meta, err := encodeMetadata(input.Metadata)
	if err != nil {
		return CreditResult{}, err
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return CreditResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var seen bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM token_ledger_entries WHERE external_event_id = $1)`,
		input.ExternalEventID).Scan(&seen); err != nil {
		return CreditResult{}, err
	}
	if seen {
		_ = tx.Rollback(ctx)
		return l.duplicate(ctx, input)
	}

	if _, err := lockBalance(ctx, tx, input.AccountID); err != nil {
		return CreditResult{}, err
	}

	var newBalance int64
	if err := tx.QueryRow(ctx, `UPDATE token_accounts SET balance = balance + $2, updated_at = NOW()
        WHERE account_id = $1 RETURNING balance`, input.AccountID, input.Units).Scan(&newBalance); err != nil {
		return CreditResult{}, translateError(err)
	}

	entryID := uuid.New()
	if _, err := tx.Exec(ctx, `INSERT INTO token_ledger_entries
        (id, account_id, kind, amount, units, external_event_id, external_payment_ref, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entryID, input.AccountID, string(KindCredit), input.Units, input.Units,
		input.ExternalEventID, nullString(input.PaymentRef), meta); err != nil {
		return l.creditFailed(ctx, tx, input, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return l.creditFailed(ctx, tx, input, err)
	}
	return CreditResult{EntryID: entryID.String(), Balance: newBalance}, nil
}

func (l *PostgresLedger) creditFailed(ctx context.Context, tx pgx.Tx, input CreditInput, err error) (CreditResult, error) {
	err = translateError(err)
	if errors.Is(err, ErrDuplicateEvent) {
		_ = tx.Rollback(ctx)
		return l.duplicate(ctx, input)
	}
	return CreditResult{}, err
}

// duplicate reports the entry that already applied the event, best effort.
func (l *PostgresLedger) duplicate(ctx context.Context, input CreditInput) (CreditResult, error) {
	var res CreditResult
	var id uuid.UUID
	if err := l.db.QueryRow(ctx, `SELECT id FROM token_ledger_entries WHERE external_event_id = $1`,
		input.ExternalEventID).Scan(&id); err == nil {
		res.EntryID = id.String()
	}
	if bal, err := l.Balance(ctx, input.AccountID); err == nil {
		res.Balance = bal
	}
	return res, ErrDuplicateEvent
}

func lockBalance(ctx context.Context, tx pgx.Tx, accountID string) (int64, error) {
	const query = `SELECT balance FROM token_accounts WHERE account_id = $1 FOR UPDATE`
	var balance int64
	if err := tx.QueryRow(ctx, query, accountID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return balance, nil
}

// translateError maps constraint violations onto ledger sentinels.
func translateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		switch pgErr.ConstraintName {
		case eventIDConstraint:
			return ErrDuplicateEvent
		case accountsPKey:
			return ErrAccountExists
		}
	case "23514":
		if pgErr.ConstraintName == balanceConstraint {
			return ErrInsufficientBalance
		}
		return fmt.Errorf("%w: %s", ErrInvalidArgument, pgErr.Message)
	case "22003":
		return fmt.Errorf("%w: balance would overflow", ErrInvalidArgument)
	case "23503":
		return ErrAccountNotFound
	}
	return err
}

func encodeMetadata(metadata map[string]any) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata is not JSON encodable: %v", ErrInvalidArgument, err)
	}
	return raw, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Ledger = (*PostgresLedger)(nil)
