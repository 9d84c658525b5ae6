package usage

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/agentsaas/tokenledger/internal/ledger"
)

// Handler exposes usage endpoints to trusted backend callers.
type Handler struct {
	service *Service
}

// NewHandler constructs a usage handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type debitRequest struct {
	Metadata map[string]any `json:"metadata"`
}

type refundRequest struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

// Debit charges one token against the account in the path.
func (h *Handler) Debit(c *fiber.Ctx) error {
	var req debitRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	accountID := c.Params("accountId")

	res, err := h.service.Consume(c.UserContext(), accountID, req.Metadata)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientBalance):
			return c.Status(http.StatusPaymentRequired).JSON(fiber.Map{
				"error":      "insufficient balance",
				"account_id": accountID,
				"balance":    res.Balance,
			})
		case errors.Is(err, ledger.ErrAccountNotFound):
			return fiber.NewError(http.StatusNotFound, "account not found")
		case errors.Is(err, ledger.ErrInvalidArgument):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_id": accountID,
		"entry_id":   res.EntryID,
		"balance":    res.Balance,
	})
}

// Refund returns the token charged for a failed request.
func (h *Handler) Refund(c *fiber.Ctx) error {
	var req refundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	accountID := c.Params("accountId")

	res, err := h.service.Refund(c.UserContext(), RefundInput{
		AccountID: accountID,
		RequestID: req.RequestID,
		Reason:    req.Reason,
	})
	status := "refunded"
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrDuplicateEvent):
			status = "duplicate"
		case errors.Is(err, ledger.ErrAccountNotFound):
			return fiber.NewError(http.StatusNotFound, "account not found")
		case errors.Is(err, ledger.ErrInvalidArgument):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"status":     status,
		"account_id": accountID,
		"entry_id":   res.EntryID,
		"balance":    res.Balance,
	})
}
