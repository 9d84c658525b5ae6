package auth

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/agentsaas/tokenledger/internal/ledger"
)

// Handler exposes token issuance to the trusted backend.
type Handler struct {
	svc    *Service
	ledger ledger.Ledger
}

func NewHandler(svc *Service, l ledger.Ledger) *Handler {
	return &Handler{svc: svc, ledger: l}
}

// IssueToken returns a read token for an existing account.
func (h *Handler) IssueToken(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	if _, err := h.ledger.Balance(c.UserContext(), accountID); err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return fiber.NewError(http.StatusNotFound, "account not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	token, err := h.svc.Issue(accountID)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(token)
}
