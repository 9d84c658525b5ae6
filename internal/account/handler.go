package account

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/agentsaas/tokenledger/internal/ledger"
)

// Handler exposes account HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	AccountID string `json:"account_id"`
}

type entryResponse struct {
	ID                 string         `json:"id"`
	Kind               string         `json:"kind"`
	Amount             int64          `json:"amount"`
	Units              int64          `json:"units"`
	ExternalEventID    string         `json:"external_event_id,omitempty"`
	ExternalPaymentRef string         `json:"external_payment_ref,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// Create provisions an account.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	acct, err := h.service.Create(c.UserContext(), req.AccountID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"account_id": acct.ID,
		"balance":    acct.Balance,
		"created_at": acct.CreatedAt,
	})
}

// Delete removes an account and its history.
func (h *Handler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), c.Params("accountId")); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Balance returns the account balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	balance, err := h.service.Balance(c.UserContext(), accountID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_id": accountID,
		"balance":    balance.Amount,
		"as_of":      balance.AsOf,
	})
}

// Entries returns a page of the account's ledger history, newest first.
func (h *Handler) Entries(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	page := ledger.Page{Limit: c.QueryInt("limit", ledger.DefaultPageSize), Offset: c.QueryInt("offset", 0)}.Normalize()

	entries, err := h.service.History(c.UserContext(), accountID, page)
	if err != nil {
		return toHTTPError(err)
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:                 e.ID,
			Kind:               string(e.Kind),
			Amount:             e.Amount,
			Units:              e.Units,
			ExternalEventID:    e.ExternalEventID,
			ExternalPaymentRef: e.ExternalPaymentRef,
			Metadata:           e.Metadata,
			CreatedAt:          e.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_id": accountID,
		"limit":      page.Limit,
		"offset":     page.Offset,
		"entries":    out,
	})
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, "account not found")
	case errors.Is(err, ledger.ErrAccountExists):
		return fiber.NewError(http.StatusConflict, "account already exists")
	case errors.Is(err, ledger.ErrInvalidArgument):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
