package purchase

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/agentsaas/tokenledger/internal/ledger"
)

// Handler exposes the HTTP ingest path for confirmed payments.
type Handler struct {
	service *Service
}

// NewHandler constructs a purchase handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Confirmed applies a normalized payment event. Duplicates and ignored event
// types answer 200 so the sender stops retrying.
func (h *Handler) Confirmed(c *fiber.Ctx) error {
	var req PaymentConfirmed
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	out, err := h.service.Apply(c.UserContext(), req)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrAccountNotFound):
			return fiber.NewError(http.StatusNotFound, "account not found")
		case errors.Is(err, ledger.ErrInvalidArgument):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	status := http.StatusOK
	if out.Status == StatusCredited {
		status = http.StatusCreated
	}
	return c.Status(status).JSON(PaymentResponse{
		Status:    out.Status,
		EventID:   req.EventID,
		AccountID: req.AccountID,
		EntryID:   out.EntryID,
		Balance:   out.Balance,
	})
}
