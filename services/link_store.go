package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"app-link-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// tokenAttempts bounds regeneration after a referrer token collision.
const tokenAttempts = 3

// LinkStore persists deferred links. Every mutation is a single conditional
// statement so concurrent callers never need application-level locking.
type LinkStore struct {
	DB       *gorm.DB
	TTL      time.Duration
	Now      func() time.Time
	NewToken func() (string, error)
	Metrics  *Metrics
}

func NewLinkStore(db *gorm.DB, ttl time.Duration) *LinkStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &LinkStore{
		DB:       db,
		TTL:      ttl,
		Now:      func() time.Time { return time.Now().UTC() },
		NewToken: NewReferrerToken,
	}
}

// StoreParams describes a link click.
type StoreParams struct {
	AppID       string
	Fingerprint string
	Target      models.LinkTarget
	IP          string
}

// Store creates an unclaimed deferred link expiring TTL from now.
func (s *LinkStore) Store(ctx context.Context, p StoreParams) (*models.DeferredLink, error) {
	now := s.Now()
	link := &models.DeferredLink{
		AppID:        p.AppID,
		Fingerprint:  p.Fingerprint,
		Kind:         p.Target.Kind,
		DeepLinkPath: p.Target.Path,
		IP:           parseIP(p.IP),
		ExpiresAt:    now.Add(s.TTL),
		CreatedAt:    now,
	}
	if link.Kind == "" {
		link.Kind = models.LinkKindPlain
	}
	if link.Kind == models.LinkKindReferral {
		code := p.Target.ReferralCode
		link.ReferralCode = &code
	}

	for attempt := 1; attempt <= tokenAttempts; attempt++ {
		token, err := s.NewToken()
		if err != nil {
			return nil, err
		}
		link.ID = uuid.NewString()
		link.ReferrerToken = token

		err = s.DB.WithContext(ctx).Create(link).Error
		if err == nil {
			s.Metrics.ObserveStored(string(link.Kind))
			return link, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("insert deferred link: %w", err)
		}
		log.Printf("⚠️ [LINK_STORE] referrer token collision (attempt %d/%d)", attempt, tokenAttempts)
	}
	return nil, &ConfigurationError{
		Code:    CodeTokenSpace,
		Message: "could not generate a unique referrer token",
		Err:     ErrDuplicateToken,
	}
}

// PatchSignals fills signal fields that are still empty on the unclaimed link
// identified by token. Previously captured values are never overwritten.
// It reports whether an unclaimed link matched.
func (s *LinkStore) PatchSignals(ctx context.Context, token string, signals models.DeviceSignals) (bool, error) {
	if token == "" {
		return false, nil
	}
	signals = NormalizeSignals(signals)
	res := s.DB.WithContext(ctx).
		Model(&models.DeferredLink{}).
		Where("referrer_token = ? AND claimed = ?", token, false).
		Updates(map[string]any{
			"timezone":      gorm.Expr("COALESCE(timezone, ?)", nullable(signals.Timezone)),
			"language":      gorm.Expr("COALESCE(language, ?)", nullable(signals.Language)),
			"screen_width":  gorm.Expr("COALESCE(screen_width, ?)", nullable(signals.ScreenWidth)),
			"screen_height": gorm.Expr("COALESCE(screen_height, ?)", nullable(signals.ScreenHeight)),
		})
	if res.Error != nil {
		return false, fmt.Errorf("patch signals: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// FindByToken returns the claimable link for token, or nil.
func (s *LinkStore) FindByToken(ctx context.Context, token string) (*models.DeferredLink, error) {
	if token == "" {
		return nil, nil
	}
	var link models.DeferredLink
	err := s.claimable(ctx).Where("referrer_token = ?", token).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by token: %w", err)
	}
	return &link, nil
}

// FindByIPWindow returns claimable links of the app clicked from ip within
// window of now, newest first.
func (s *LinkStore) FindByIPWindow(ctx context.Context, ip, appID string, window time.Duration) ([]models.DeferredLink, error) {
	if ip == "" {
		return nil, nil
	}
	var links []models.DeferredLink
	err := s.claimable(ctx).
		Where("ip = ? AND app_id = ? AND created_at >= ?", ip, appID, s.Now().Add(-window)).
		Order("created_at DESC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("find by ip window: %w", err)
	}
	return links, nil
}

// FindByFingerprint returns claimable links of the app with the exact legacy
// fingerprint, newest first.
func (s *LinkStore) FindByFingerprint(ctx context.Context, fingerprint, appID string) ([]models.DeferredLink, error) {
	if fingerprint == "" {
		return nil, nil
	}
	var links []models.DeferredLink
	err := s.claimable(ctx).
		Where("fingerprint = ? AND app_id = ?", fingerprint, appID).
		Order("created_at DESC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("find by fingerprint: %w", err)
	}
	return links, nil
}

// MarkClaimed flips claimed to true if, and only if, the link is still
// claimable. Calling it on a claimed link is a no-op. The boolean reports
// whether this call performed the flip.
func (s *LinkStore) MarkClaimed(ctx context.Context, id string) (bool, error) {
	now := s.Now()
	res := s.DB.WithContext(ctx).
		Model(&models.DeferredLink{}).
		Where("id = ? AND claimed = ? AND expires_at > ?", id, false, now).
		Updates(map[string]any{"claimed": true, "claimed_at": now})
	if res.Error != nil {
		return false, fmt.Errorf("mark claimed: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// DeleteExpiredOrClaimed removes every link that can no longer be claimed.
func (s *LinkStore) DeleteExpiredOrClaimed(ctx context.Context) (int64, error) {
	res := s.DB.WithContext(ctx).
		Where("expires_at < ? OR claimed = ?", s.Now(), true).
		Delete(&models.DeferredLink{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired or claimed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *LinkStore) claimable(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx).
		Model(&models.DeferredLink{}).
		Where("claimed = ? AND expires_at > ?", false, s.Now())
}
