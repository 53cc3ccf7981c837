package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"app-link-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const codeAttempts = 5

// ReferralService owns the referral lifecycle. Status changes are conditional
// updates on the current status, so pending → completed/expired can happen
// at most once per referral.
type ReferralService struct {
	DB      *gorm.DB
	Now     func() time.Time
	NewCode func() (string, error)
	Metrics *Metrics
}

func NewReferralService(db *gorm.DB, metrics *Metrics) *ReferralService {
	return &ReferralService{
		DB:      db,
		Now:     func() time.Time { return time.Now().UTC() },
		NewCode: NewReferralCode,
		Metrics: metrics,
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Create returns the pending referral of (appID, referrerID) if there is one,
// otherwise mints a new one. created reports whether a row was inserted.
// A concurrent Create for the same pair loses on the pending-referral unique
// index and returns the winner's row. Per-app caps are the caller's concern (see CountOpenSince).
func (s *ReferralService) Create(ctx context.Context, appID, referrerID string, metadata models.Metadata) (ref *models.Referral, created bool, err error) {
	if appID == "" {
		return nil, false, &ValidationError{Field: "app_id", Message: "is required"}
	}
	if referrerID == "" {
		return nil, false, &ValidationError{Field: "user_id", Message: "is required"}
	}

	existing, err := s.FindPending(ctx, appID, referrerID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := s.Now()
	for attempt := 1; attempt <= codeAttempts; attempt++ {
		code, err := s.NewCode()
		if err != nil {
			return nil, false, err
		}
		ref = &models.Referral{
			ID:           uuid.NewString(),
			AppID:        appID,
			ReferrerID:   referrerID,
			ReferralCode: code,
			Status:       models.ReferralStatusPending,
			Milestone:    models.MilestonePending,
			Metadata:     metadata,
			Timestamps:   models.Timestamps{CreatedAt: now, UpdatedAt: now},
		}
		err = s.DB.WithContext(ctx).Create(ref).Error
		if err == nil {
			s.Metrics.ObserveReferral("created")
			log.Printf("🎟️ [REFERRAL] created code=%s app=%s referrer=%s", code, appID, referrerID)
			return ref, true, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, fmt.Errorf("insert referral: %w", err)
		}
		// Either the code collided or another request inserted the pending referral first.
		existing, err := s.FindPending(ctx, appID, referrerID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}
	return nil, false, &ConfigurationError{Code: CodeTokenSpace, Message: "could not generate a unique referral code"}
}

// FindPending returns the pending referral of (appID, referrerID), or nil.
func (s *ReferralService) FindPending(ctx context.Context, appID, referrerID string) (*models.Referral, error) {
	var ref models.Referral
	err := s.DB.WithContext(ctx).
		Where("app_id = ? AND referrer_id = ? AND status = ?", appID, referrerID, models.ReferralStatusPending).
		Order("created_at DESC").
		First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find pending referral: %w", err)
	}
	return &ref, nil
}

// CountOpenSince counts the referrer's referrals in an app that were created
// at or after since and have not expired. Completed referrals count.
func (s *ReferralService) CountOpenSince(ctx context.Context, appID, referrerID string, since time.Time) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).
		Model(&models.Referral{}).
		Where("app_id = ? AND referrer_id = ? AND status <> ? AND created_at >= ?",
			appID, referrerID, models.ReferralStatusExpired, since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count open referrals: %w", err)
	}
	return n, nil
}

// GetByCode returns the referral for code in any status, or nil.
func (s *ReferralService) GetByCode(ctx context.Context, code string) (*models.Referral, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, nil
	}
	var ref models.Referral
	err := s.DB.WithContext(ctx).Where("referral_code = ?", code).First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get referral: %w", err)
	}
	return &ref, nil
}

// UpdateMilestone sets milestone on any referral that has not expired.
// It returns nil when the code is unknown or expired.
func (s *ReferralService) UpdateMilestone(ctx context.Context, code, milestone string) (*models.Referral, error) {
	code = normalizeCode(code)
	milestone = strings.TrimSpace(milestone)
	if code == "" || milestone == "" {
		return nil, nil
	}
	res := s.DB.WithContext(ctx).
		Model(&models.Referral{}).
		Where("referral_code = ? AND status <> ?", code, models.ReferralStatusExpired).
		Updates(map[string]any{"milestone": milestone, "updated_at": s.Now()})
	if res.Error != nil {
		return nil, fmt.Errorf("update milestone: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	s.Metrics.ObserveReferral("milestone")
	return s.GetByCode(ctx, code)
}

// Complete moves a pending referral to completed, recording who was referred.
// An empty milestone defaults to "completed". It returns nil unless the
// referral exists and was pending.
func (s *ReferralService) Complete(ctx context.Context, code, referredUserID, milestone string) (*models.Referral, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, nil
	}
	if milestone = strings.TrimSpace(milestone); milestone == "" {
		milestone = models.MilestoneCompleted
	}
	now := s.Now()
	res := s.DB.WithContext(ctx).
		Model(&models.Referral{}).
		Where("referral_code = ? AND status = ?", code, models.ReferralStatusPending).
		Updates(map[string]any{
			"status":           models.ReferralStatusCompleted,
			"referred_user_id": referredUserID,
			"milestone":        milestone,
			"completed_at":     now,
			"updated_at":       now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("complete referral: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	s.Metrics.ObserveReferral("completed")
	log.Printf("🏁 [REFERRAL] completed code=%s referred=%s", code, referredUserID)
	return s.GetByCode(ctx, code)
}

// ExpireOld expires pending referrals created more than daysOld days ago.
func (s *ReferralService) ExpireOld(ctx context.Context, daysOld int) (int64, error) {
	if daysOld <= 0 {
		return 0, nil
	}
	now := s.Now()
	cutoff := now.AddDate(0, 0, -daysOld)
	res := s.DB.WithContext(ctx).
		Model(&models.Referral{}).
		Where("status = ? AND created_at < ?", models.ReferralStatusPending, cutoff).
		Updates(map[string]any{"status": models.ReferralStatusExpired, "updated_at": now})
	if res.Error != nil {
		return 0, fmt.Errorf("expire referrals: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.Metrics.ObserveReferralN("expired", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
