package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CleanupKeyMiddleware guards the operator cleanup trigger with the shared
// secret in X-Cleanup-Key. When no secret is configured the trigger is refused.
func CleanupKeyMiddleware(cleanupKey string) fiber.Handler {
	if cleanupKey == "" {
		log.Println("⚠️  [CLEANUP_AUTH] CLEANUP_KEY not set, external cleanup trigger disabled")
	}

	return func(c *fiber.Ctx) error {
		provided := strings.TrimSpace(c.Get("X-Cleanup-Key"))
		if cleanupKey == "" || provided == "" || !constantTimeEqual(provided, cleanupKey) {
			log.Printf("🚫 [CLEANUP_AUTH] rejected cleanup trigger from %s", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "unauthorized",
			})
		}
		return c.Next()
	}
}
