package middleware

import (
	"crypto/subtle"

	"dealflow/config"

	"github.com/gofiber/fiber/v2"
)

// TriggerAuth guards the scheduler trigger endpoint. The cron caller
// authenticates with a shared secret header; an operator JWT works too.
func TriggerAuth() fiber.Handler {
	protected := Protected()

	return func(c *fiber.Ctx) error {
		secret := c.Get("X-Trigger-Secret")
		if secret != "" && config.AppConfig.TriggerSecret != "" {
			if subtle.ConstantTimeCompare([]byte(secret), []byte(config.AppConfig.TriggerSecret)) == 1 {
				return c.Next()
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid trigger secret",
			})
		}

		// Fall back to operator credentials
		return protected(c)
	}
}
