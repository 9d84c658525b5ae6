package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentsaas/tokenledger/internal/account"
)

// RegisterAccountReadRoutes wires the end-user balance and history reads.
// owner must restrict access to the account in the path.
func RegisterAccountReadRoutes(r fiber.Router, h *account.Handler, owner fiber.Handler) {
	r.Get("/accounts/:accountId/balance", owner, h.Balance)
	r.Get("/accounts/:accountId/entries", owner, h.Entries)
}

// RegisterAccountAdminRoutes wires provisioning endpoints for backend callers.
func RegisterAccountAdminRoutes(r fiber.Router, h *account.Handler) {
	r.Post("/accounts", h.Create)
	r.Delete("/accounts/:accountId", h.Delete)
	r.Get("/accounts/:accountId/balance", h.Balance)
	r.Get("/accounts/:accountId/entries", h.Entries)
}
