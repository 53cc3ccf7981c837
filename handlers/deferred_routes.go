package handlers

import (
	"context"
	"strconv"
	"strings"

	"app-link-service/middleware"
	"app-link-service/models"
	"app-link-service/services"

	"github.com/gofiber/fiber/v2"
)

// Cleaner runs one cleanup pass; implemented by workers.Sweeper.
type Cleaner interface {
	RunOnce(ctx context.Context) (int64, error)
}

type DeferredHandler struct {
	Apps     *services.AppService
	Links    *services.LinkStore
	Resolver *services.ClaimResolver
	Cleaner  Cleaner
}

// SetupDeferredRoutes registers the deferred-link API. limit guards the
// public endpoints; cleanupKey protects the operator trigger.
func SetupDeferredRoutes(app *fiber.App, h *DeferredHandler, limit fiber.Handler, cleanupKey string) {
	api := app.Group("/api/deferred")
	api.Post("/signals", limit, h.CaptureSignals)
	api.Get("/claim", limit, h.Claim)
	api.Post("/cleanup", middleware.CleanupKeyMiddleware(cleanupKey), h.Cleanup)
}

type captureSignalsRequest struct {
	ReferrerToken string  `json:"referrer_token"`
	Timezone      *string `json:"timezone"`
	Language      *string `json:"language"`
	ScreenWidth   *int    `json:"screen_width"`
	ScreenHeight  *int    `json:"screen_height"`
}

// CaptureSignals patches the link created at click time with what the
// landing page could read from the browser.
func (h *DeferredHandler) CaptureSignals(c *fiber.Ctx) error {
	var req captureSignalsRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	token := strings.TrimSpace(req.ReferrerToken)
	if token == "" {
		return fail(c, fiber.StatusBadRequest, "referrer_token is required")
	}

	matched, err := h.Links.PatchSignals(c.UserContext(), token, models.DeviceSignals{
		Timezone:     req.Timezone,
		Language:     req.Language,
		ScreenWidth:  req.ScreenWidth,
		ScreenHeight: req.ScreenHeight,
	})
	if err != nil {
		return failFromError(c, "SIGNALS", err)
	}
	return c.JSON(fiber.Map{"success": matched})
}

// Claim resolves an installed app back to the link that led to the install.
//
// token wins when present. Otherwise app_id is required and any signal
// parameter selects signal scoring, a bare fingerprint selects the legacy
// path, and with neither the request IP alone drives signal scoring.
func (h *DeferredHandler) Claim(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var (
		result *services.ClaimResult
		err    error
	)
	if token := strings.TrimSpace(c.Query("token")); token != "" {
		result, err = h.Resolver.ClaimByToken(ctx, token)
	} else {
		appRef := strings.TrimSpace(c.Query("app_id"))
		if appRef == "" {
			return fail(c, fiber.StatusBadRequest, "token or app_id is required")
		}
		app, appErr := h.Apps.Resolve(ctx, appRef)
		if appErr != nil {
			return failFromError(c, "CLAIM", appErr)
		}
		if app == nil {
			return fail(c, fiber.StatusNotFound, "app not found")
		}

		signals, hasSignals := signalsFromQuery(c)
		fingerprint := strings.TrimSpace(c.Query("fingerprint"))
		if !hasSignals && fingerprint != "" {
			result, err = h.Resolver.ClaimByFingerprint(ctx, app.ID, fingerprint)
		} else {
			if signals.IP == "" {
				signals.IP = middleware.ClientIP(c)
			}
			result, err = h.Resolver.ClaimBySignals(ctx, app.ID, signals)
		}
	}
	if err != nil {
		return failFromError(c, "CLAIM", err)
	}
	if result == nil {
		return fail(c, fiber.StatusNotFound, "no matching deferred link")
	}

	resp := fiber.Map{"success": true, "path": result.Path()}
	if result.ReferralCode != "" {
		resp["referrer_id"] = result.ReferrerID
		resp["referral_code"] = result.ReferralCode
	}
	return c.JSON(resp)
}

// signalsFromQuery reads claim-time signals. Unparsable numbers count as missing.
func signalsFromQuery(c *fiber.Ctx) (models.DeviceSignals, bool) {
	var s models.DeviceSignals
	present := false

	if ip := strings.TrimSpace(c.Query("ip")); ip != "" {
		s.IP = ip
		present = true
	}
	if tz := strings.TrimSpace(c.Query("timezone")); tz != "" {
		s.Timezone = &tz
		present = true
	}
	if lang := strings.TrimSpace(c.Query("language")); lang != "" {
		s.Language = &lang
		present = true
	}
	if raw := c.Query("screen_width"); raw != "" {
		present = true
		if w, err := strconv.Atoi(raw); err == nil {
			s.ScreenWidth = &w
		}
	}
	if raw := c.Query("screen_height"); raw != "" {
		present = true
		if hgt, err := strconv.Atoi(raw); err == nil {
			s.ScreenHeight = &hgt
		}
	}
	return s, present
}

// Cleanup is the operator/cron trigger for the sweeper.
func (h *DeferredHandler) Cleanup(c *fiber.Ctx) error {
	deleted, err := h.Cleaner.RunOnce(c.UserContext())
	if err != nil {
		return failFromError(c, "CLEANUP", err)
	}
	return c.JSON(fiber.Map{"success": true, "deleted": deleted})
}
