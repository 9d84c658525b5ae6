package usage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/agentsaas/tokenledger/internal/ledger"
	"github.com/agentsaas/tokenledger/internal/logging"
	"github.com/agentsaas/tokenledger/internal/notification"
)

type testNotifier struct {
	sent []notification.Message
	err  error
}

func (n *testNotifier) Send(_ context.Context, msg notification.Message) error {
	n.sent = append(n.sent, msg)
	return n.err
}

func newFunded(t *testing.T, units int64) ledger.Ledger {
	t.Helper()
	led := ledger.NewInMemory()
	ctx := context.Background()
	if err := led.CreateAccount(ctx, "acct-1"); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if units > 0 {
		if _, err := ledger.Seed(ctx, led, "acct-1", units); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return led
}

func TestConsumeSuccess(t *testing.T) {
	led := newFunded(t, 2)
	notifier := &testNotifier{}
	svc := NewService(led, notifier, logging.Discard())

	res, err := svc.Consume(context.Background(), "acct-1", map[string]any{"agent": "planner"})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if res.Balance != 1 || res.EntryID == "" {
		t.Fatalf("unexpected debit result: %+v", res)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].Kind != notification.KindTokensConsumed {
		t.Fatalf("expected consumed notification, got %+v", notifier.sent)
	}
}

func TestConsumeInsufficientBalance(t *testing.T) {
	led := newFunded(t, 0)
	notifier := &testNotifier{}
	svc := NewService(led, notifier, nil)

	res, err := svc.Consume(context.Background(), "acct-1", nil)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if res.Balance != 0 {
		t.Fatalf("expected balance 0 in result, got %d", res.Balance)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].Kind != notification.KindTokensExhausted {
		t.Fatalf("expected exhausted notification, got %+v", notifier.sent)
	}
}

func TestConsumeSurvivesNotifierFailure(t *testing.T) {
	led := newFunded(t, 1)
	svc := NewService(led, &testNotifier{err: errors.New("nats down")}, logging.Discard())

	if _, err := svc.Consume(context.Background(), "acct-1", nil); err != nil {
		t.Fatalf("notifier failure must not fail the debit: %v", err)
	}
	bal, _ := led.Balance(context.Background(), "acct-1")
	if bal != 0 {
		t.Fatalf("expected debit to stick, balance %d", bal)
	}
}

func TestRefundIsIdempotentPerRequest(t *testing.T) {
	led := newFunded(t, 1)
	svc := NewService(led, nil, nil)
	ctx := context.Background()

	if _, err := svc.Consume(ctx, "acct-1", nil); err != nil {
		t.Fatalf("consume: %v", err)
	}
	in := RefundInput{AccountID: "acct-1", RequestID: "req-9", Reason: "agent_error"}
	first, err := svc.Refund(ctx, in)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if first.Balance != 1 {
		t.Fatalf("expected balance 1 after refund, got %d", first.Balance)
	}
	if _, err := svc.Refund(ctx, in); !errors.Is(err, ledger.ErrDuplicateEvent) {
		t.Fatalf("expected duplicate refund to be rejected, got %v", err)
	}

	entries, err := led.Entries(ctx, "acct-1", ledger.Page{})
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if entries[0].ExternalEventID != RefundEventID("acct-1", "req-9") || entries[0].ExternalPaymentRef != "refund:agent_error" {
		t.Fatalf("unexpected refund entry: %+v", entries[0])
	}
}

func TestRefundRequiresRequestID(t *testing.T) {
	svc := NewService(newFunded(t, 0), nil, nil)
	if _, err := svc.Refund(context.Background(), RefundInput{AccountID: "acct-1"}); !errors.Is(err, ledger.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestHandlerDebitAndRefund(t *testing.T) {
	led := newFunded(t, 1)
	h := NewHandler(NewService(led, nil, nil))
	app := fiber.New()
	app.Post("/accounts/:accountId/debit", h.Debit)
	app.Post("/accounts/:accountId/refund", h.Refund)

	debit := func() (int, map[string]any) {
		req := httptest.NewRequest(fiber.MethodPost, "/accounts/acct-1/debit", strings.NewReader(`{"metadata":{"agent":"x"}}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("debit request: %v", err)
		}
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return resp.StatusCode, body
	}

	status, body := debit()
	if status != fiber.StatusOK || body["balance"].(float64) != 0 {
		t.Fatalf("expected 200 with balance 0, got %d %v", status, body)
	}
	status, body = debit()
	if status != fiber.StatusPaymentRequired || body["balance"].(float64) != 0 {
		t.Fatalf("expected 402 with balance 0, got %d %v", status, body)
	}

	refund := func() (int, map[string]any) {
		req := httptest.NewRequest(fiber.MethodPost, "/accounts/acct-1/refund", strings.NewReader(`{"request_id":"r1","reason":"timeout"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("refund request: %v", err)
		}
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return resp.StatusCode, body
	}
	status, body = refund()
	if status != fiber.StatusOK || body["status"] != "refunded" {
		t.Fatalf("expected refunded, got %d %v", status, body)
	}
	status, body = refund()
	if status != fiber.StatusOK || body["status"] != "duplicate" || body["balance"].(float64) != 1 {
		t.Fatalf("expected duplicate with balance 1, got %d %v", status, body)
	}

	req := httptest.NewRequest(fiber.MethodPost, "/accounts/ghost/debit", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("ghost debit: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown account, got %d", resp.StatusCode)
	}
}
