package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentsaas/tokenledger/internal/purchase"
)

// RegisterPurchaseRoutes wires the confirmed-payment ingest endpoint.
func RegisterPurchaseRoutes(r fiber.Router, h *purchase.Handler) {
	r.Post("/payments/confirmed", h.Confirmed)
}
