package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kobopay/kobo_pay/internal/wallet"
)

// RegisterTransferRoutes wires the transfer endpoint behind the rate limiter.
func RegisterTransferRoutes(r fiber.Router, h *wallet.Handler, rateLimit fiber.Handler) {
	r.Post("/transfers", rateLimit, h.Transfer)
}
