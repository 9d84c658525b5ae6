package account

import "time"

// MaxIDLength bounds account identifiers accepted at provisioning time.
const MaxIDLength = 128

// Account is a provisioned token account.
type Account struct {
	ID        string
	Balance   int64
	CreatedAt time.Time
}

// Balance is a point-in-time read of an account's spendable tokens.
type Balance struct {
	AccountID string
	Amount    int64
	AsOf      time.Time
}
