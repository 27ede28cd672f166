package middleware

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

const (
	userIDHeader   = "X-User-ID"
	userRoleHeader = "X-User-Role"

	// RoleAdmin marks callers allowed to run privileged operations.
	RoleAdmin = "admin"
)

// Identity injects the verified caller identity supplied by the upstream
// authentication gateway. The gateway terminates authentication; this service
// trusts the forwarded headers and does not re-authenticate.
func Identity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get(userIDHeader)
		if userID == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing caller identity")
		}

		c.Locals("user_id", userID)
		c.Locals("user_role", c.Get(userRoleHeader))

		return c.Next()
	}
}

// RequireAdmin gates privileged endpoints on the forwarded role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("user_role").(string)
		if role != RoleAdmin {
			return fiber.NewError(http.StatusForbidden, "admin privilege required")
		}
		return c.Next()
	}
}
