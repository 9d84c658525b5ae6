package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentsaas/tokenledger/internal/auth"
)

// RegisterTokenRoutes wires issuance of account read tokens.
func RegisterTokenRoutes(r fiber.Router, h *auth.Handler) {
	r.Post("/accounts/:accountId/tokens", h.IssueToken)
}
