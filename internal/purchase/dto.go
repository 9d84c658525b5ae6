package purchase

// EventTypeSucceeded is the only event type that credits tokens. Every other
// type is acknowledged and ignored.
const EventTypeSucceeded = "payment.succeeded"

// PaymentConfirmed is the normalized payment event produced by the webhook
// bridge, either posted over HTTP or read from the payments topic.
type PaymentConfirmed struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	AccountID  string         `json:"account_id"`
	Units      int64          `json:"units"`
	PaymentRef string         `json:"payment_ref"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// PaymentResponse represents the API response for an ingested payment event.
type PaymentResponse struct {
	Status    string `json:"status"`
	EventID   string `json:"event_id"`
	AccountID string `json:"account_id,omitempty"`
	EntryID   string `json:"entry_id,omitempty"`
	Balance   int64  `json:"balance"`
}
