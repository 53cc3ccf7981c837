package handlers

import (
	"errors"
	"log"

	"app-link-service/services"

	"github.com/gofiber/fiber/v2"
)

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "error": msg})
}

// failFromError maps service errors onto the HTTP error taxonomy.
func failFromError(c *fiber.Ctx, op string, err error) error {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		return fail(c, fiber.StatusBadRequest, verr.Error())
	}
	var cerr *services.ConfigurationError
	if errors.As(err, &cerr) {
		switch cerr.Code {
		case services.CodeReferralsDisabled:
			return fail(c, fiber.StatusForbidden, cerr.Message)
		case services.CodeReferralCap:
			return fail(c, fiber.StatusBadRequest, cerr.Message)
		}
	}
	log.Printf("❌ [%s] %v", op, err)
	return fail(c, fiber.StatusInternalServerError, "internal server error")
}
