package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentsaas/tokenledger/internal/usage"
)

// RegisterUsageRoutes wires debit and refund endpoints. The rate limiter, when
// provided, only guards debits.
func RegisterUsageRoutes(r fiber.Router, h *usage.Handler, rateLimiter fiber.Handler) {
	if rateLimiter != nil {
		r.Post("/accounts/:accountId/debit", rateLimiter, h.Debit)
	} else {
		r.Post("/accounts/:accountId/debit", h.Debit)
	}
	r.Post("/accounts/:accountId/refund", h.Refund)
}
