package middleware

import (
	"crypto/subtle"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// APIKeyMiddleware enforces the static API key. The key is read from
// X-API-Key, then "Authorization: Bearer", then the api_key query param.
// With no key configured every request passes.
func APIKeyMiddleware(apiKey string) fiber.Handler {
	if apiKey == "" {
		log.Println("⚠️  [API_KEY] no API_KEY configured, referral endpoints are open")
		return func(c *fiber.Ctx) error { return c.Next() }
	}

	return func(c *fiber.Ctx) error {
		provided := RequestAPIKey(c)
		if provided == "" || !constantTimeEqual(provided, apiKey) {
			log.Printf("🚫 [API_KEY] rejected request for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "unauthorized",
			})
		}
		return c.Next()
	}
}

// RequestAPIKey extracts the caller's key using the documented precedence.
func RequestAPIKey(c *fiber.Ctx) string {
	if key := strings.TrimSpace(c.Get("X-API-Key")); key != "" {
		return key
	}
	if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
		if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	return strings.TrimSpace(c.Query("api_key"))
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
