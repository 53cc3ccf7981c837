package middleware

import (
	"app-link-service/services"

	"github.com/gofiber/fiber/v2"
)

const clientIPKey = "client_ip"

// ClientAddressMiddleware resolves the caller's IP once per request.
// Proxy headers are trusted only when trustProxy is set.
func ClientAddressMiddleware(trustProxy bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := services.ResolveClientAddress(services.ClientAddressHeaders{
			ForwardedFor: c.Get(fiber.HeaderXForwardedFor),
			RealIP:       c.Get("X-Real-IP"),
		}, c.Context().RemoteAddr().String(), trustProxy)
		c.Locals(clientIPKey, ip)
		return c.Next()
	}
}

// ClientIP returns the address resolved by ClientAddressMiddleware, falling
// back to the socket address when the middleware did not run.
func ClientIP(c *fiber.Ctx) string {
	if ip, ok := c.Locals(clientIPKey).(string); ok && ip != "" {
		return ip
	}
	return c.IP()
}
