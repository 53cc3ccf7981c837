package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// botPatterns are known crawler/link-preview User-Agent substrings (lowercase).
var botPatterns = []string{
	"googlebot", "bingbot", "slurp", "duckduckbot",
	"baiduspider", "yandexbot", "facebookexternalhit",
	"twitterbot", "rogerbot", "linkedinbot", "embedly",
	"quora link preview", "showyoubot", "outbrain",
	"pinterest", "applebot", "semrushbot", "ahrefsbot",
	"mj12bot", "dotbot", "petalbot", "bytespider",
	"slackbot", "discordbot", "whatsapp", "telegrambot",
}

// BotFilter flags requests from link unfurlers and crawlers so the landing
// handler can render without storing a deferred link.
func BotFilter() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ua := strings.ToLower(c.Get(fiber.HeaderUserAgent))
		c.Locals("is_bot", ua == "" || isBot(ua))
		return c.Next()
	}
}

// IsBot reports the BotFilter decision for the request.
func IsBot(c *fiber.Ctx) bool {
	b, _ := c.Locals("is_bot").(bool)
	return b
}

func isBot(ua string) bool {
	for _, pattern := range botPatterns {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
