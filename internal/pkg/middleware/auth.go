package middleware

import (
	"github.com/gofiber/fiber/v2"

	icuser "github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/usercontext"
)

// RequireAuth ensures an authenticated caller and returns JSON 401 otherwise.
func RequireAuth(c *fiber.Ctx) error {
	v := c.Locals(icuser.KeyFromProtected)
	loggedIn := false
	if b, ok := v.(bool); ok {
		loggedIn = b
	}
	if !loggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "authentication required",
		})
	}
	return c.Next()
}

// RequireAdmin ensures an authenticated admin caller; 401 when anonymous,
// 403 when authenticated but not admin.
func RequireAdmin(c *fiber.Ctx) error {
	v := c.Locals(icuser.KeyFromProtected)
	loggedIn := false
	if b, ok := v.(bool); ok {
		loggedIn = b
	}
	if !loggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "authentication required",
		})
	}
	if isAdmin, ok := c.Locals(icuser.KeyIsAdmin).(bool); !ok || !isAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "admin access required",
		})
	}
	return c.Next()
}
