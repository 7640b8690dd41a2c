package security

import (
	"github.com/gofiber/fiber/v2"
)

// HeadersMiddleware sets the conservative response headers appropriate for a
// JSON-only clinical API; there is no browser-rendered surface here.
func HeadersMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Cache-Control", "no-store")

		return c.Next()
	}
}
