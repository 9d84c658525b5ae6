package ledger

import (
	"context"

	"github.com/google/uuid"
)

// Seed credits units to accountID under a throwaway event id. Test helper;
// the entry it writes is indistinguishable from a real payment credit.
func Seed(ctx context.Context, l Ledger, accountID string, units int64) (CreditResult, error) {
	return l.CreditForPayment(ctx, CreditInput{
		AccountID:       accountID,
		Units:           units,
		ExternalEventID: "seed:" + uuid.NewString(),
		PaymentRef:      "seed",
	})
}
