package handlers

import (
	"fmt"
	"strings"
	"time"

	"app-link-service/middleware"
	"app-link-service/models"
	"app-link-service/services"

	"github.com/gofiber/fiber/v2"
)

type ReferralHandler struct {
	Apps          *services.AppService
	Referrals     *services.ReferralService
	PublicBaseURL string
	// ReferralWindow is how far back the per-app referral cap looks.
	ReferralWindow time.Duration
}

// SetupReferralRoutes registers the referral API behind the API key.
func SetupReferralRoutes(app *fiber.App, h *ReferralHandler, apiKey string) {
	api := app.Group("/api/referral", middleware.APIKeyMiddleware(apiKey))
	api.Post("/create", h.Create)
	api.Post("/milestone", h.Milestone)
	api.Post("/complete", h.Complete)
	api.Get("/:code", h.Get)
}

type createReferralRequest struct {
	AppID    string          `json:"app_id"`
	UserID   string          `json:"user_id"`
	Metadata models.Metadata `json:"metadata"`
}

func (h *ReferralHandler) Create(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var req createReferralRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.AppID = strings.TrimSpace(req.AppID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return fail(c, fiber.StatusBadRequest, "user_id is required")
	}
	if req.AppID == "" {
		return fail(c, fiber.StatusBadRequest, "app_id is required")
	}

	app, err := h.Apps.Resolve(ctx, req.AppID)
	if err != nil {
		return failFromError(c, "REFERRAL", err)
	}
	if app == nil {
		return fail(c, fiber.StatusNotFound, "app not found")
	}
	if !app.ReferralsEnabled {
		return failFromError(c, "REFERRAL", &services.ConfigurationError{
			Code:    services.CodeReferralsDisabled,
			Message: "referrals are not enabled for this app",
		})
	}

	existing, err := h.Referrals.FindPending(ctx, app.ID, req.UserID)
	if err != nil {
		return failFromError(c, "REFERRAL", err)
	}
	if existing == nil && app.MaxPendingReferrals > 0 {
		since := h.Referrals.Now().Add(-h.ReferralWindow)
		open, err := h.Referrals.CountOpenSince(ctx, app.ID, req.UserID, since)
		if err != nil {
			return failFromError(c, "REFERRAL", err)
		}
		if open >= int64(app.MaxPendingReferrals) {
			return failFromError(c, "REFERRAL", &services.ConfigurationError{
				Code:    services.CodeReferralCap,
				Message: fmt.Sprintf("referrer already has %d open referrals", open),
			})
		}
	}

	ref, created, err := h.Referrals.Create(ctx, app.ID, req.UserID, req.Metadata)
	if err != nil {
		return failFromError(c, "REFERRAL", err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"success":       true,
		"referral_id":   ref.ID,
		"referral_code": ref.ReferralCode,
		"referral_url":  fmt.Sprintf("%s/%s/referral/%s", h.PublicBaseURL, app.Prefix, ref.ReferralCode),
	})
}

type milestoneRequest struct {
	ReferralCode string `json:"referral_code"`
	Milestone    string `json:"milestone"`
}

func (h *ReferralHandler) Milestone(c *fiber.Ctx) error {
	var req milestoneRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.ReferralCode) == "" || strings.TrimSpace(req.Milestone) == "" {
		return fail(c, fiber.StatusBadRequest, "referral_code and milestone are required")
	}

	ref, err := h.Referrals.UpdateMilestone(c.UserContext(), req.ReferralCode, req.Milestone)
	if err != nil {
		return failFromError(c, "REFERRAL", err)
	}
	if ref == nil {
		return fail(c, fiber.StatusNotFound, "referral not found")
	}
	return c.JSON(fiber.Map{"success": true, "referral": referralView(ref)})
}

type completeRequest struct {
	ReferralCode   string `json:"referral_code"`
	ReferredUserID string `json:"referred_user_id"`
	Milestone      string `json:"milestone"`
}

func (h *ReferralHandler) Complete(c *fiber.Ctx) error {
	var req completeRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.ReferralCode) == "" || strings.TrimSpace(req.ReferredUserID) == "" {
		return fail(c, fiber.StatusBadRequest, "referral_code and referred_user_id are required")
	}

	ref, err := h.Referrals.Complete(c.UserContext(), req.ReferralCode, strings.TrimSpace(req.ReferredUserID), req.Milestone)
	if err != nil {
		return failFromError(c, "REFERRAL", err)
	}
	if ref == nil {
		return fail(c, fiber.StatusNotFound, "referral not found or not pending")
	}
	return c.JSON(fiber.Map{"success": true, "referral": referralView(ref)})
}

func (h *ReferralHandler) Get(c *fiber.Ctx) error {
	ref, err := h.Referrals.GetByCode(c.UserContext(), c.Params("code"))
	if err != nil {
		return failFromError(c, "REFERRAL", err)
	}
	if ref == nil {
		return fail(c, fiber.StatusNotFound, "referral not found")
	}
	return c.JSON(fiber.Map{"success": true, "referral": referralView(ref)})
}

func referralView(ref *models.Referral) fiber.Map {
	view := fiber.Map{
		"referral_code": ref.ReferralCode,
		"referrer_id":   ref.ReferrerID,
		"status":        ref.Status,
		"milestone":     ref.Milestone,
		"created_at":    ref.CreatedAt.UTC().Format(time.RFC3339),
	}
	if ref.ReferredUserID != nil {
		view["referred_user_id"] = *ref.ReferredUserID
	}
	if ref.CompletedAt != nil {
		view["completed_at"] = ref.CompletedAt.UTC().Format(time.RFC3339)
	}
	return view
}
