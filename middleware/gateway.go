// middleware/gateway.go
package middleware

import (
	"crypto/subtle"
	"slices"
	"strings"

	"wildlife-rewards/utils"

	"github.com/gofiber/fiber/v2"
)

// GatewayAuthMiddleware accepts only requests carrying the shared gateway token, either as
// "Bearer <token>" or raw. Paths listed in open (health probes) skip the check.
func GatewayAuthMiddleware(expectedToken string, open ...string) fiber.Handler {
	want := []byte(expectedToken)

	return func(c *fiber.Ctx) error {
		if slices.Contains(open, c.Path()) {
			return c.Next()
		}

		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader == "" {
			utils.LogWarn("🚫 [GATEWAY_AUTH] Missing Authorization header for %s %s", c.Method(), c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
			})
		}

		got := []byte(strings.TrimPrefix(authHeader, "Bearer "))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			utils.LogWarn("❌ [GATEWAY_AUTH] Rejected token for %s %s from %s", c.Method(), c.Path(), c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
			})
		}
		return c.Next()
	}
}
