package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"app-link-service/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AppService struct {
	DB *gorm.DB
}

func NewAppService(db *gorm.DB) *AppService {
	return &AppService{DB: db}
}

// AppSeed is one entry of the APPS_SEED JSON array.
type AppSeed struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Prefix              string `json:"prefix"`
	IOSStoreURL         string `json:"ios_store_url"`
	AndroidStoreURL     string `json:"android_store_url"`
	ReferralsEnabled    bool   `json:"referrals_enabled"`
	MaxPendingReferrals int    `json:"max_pending_referrals"`
}

// Seed upserts apps keyed by prefix. A blank prefix is derived from the name.
func (s *AppService) Seed(ctx context.Context, seeds []AppSeed) (int, error) {
	n := 0
	for _, seed := range seeds {
		name := strings.TrimSpace(seed.Name)
		if name == "" {
			return n, &ValidationError{Field: "name", Message: "is required for every seeded app"}
		}
		prefix := seed.Prefix
		if strings.TrimSpace(prefix) == "" {
			prefix = name
		}
		app := models.App{
			ID:                  seed.ID,
			Name:                name,
			Prefix:              slug.Make(prefix),
			IOSStoreURL:         seed.IOSStoreURL,
			AndroidStoreURL:     seed.AndroidStoreURL,
			ReferralsEnabled:    seed.ReferralsEnabled,
			MaxPendingReferrals: seed.MaxPendingReferrals,
		}
		if app.ID == "" {
			app.ID = uuid.NewString()
		}
		err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "prefix"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "ios_store_url", "android_store_url",
				"referrals_enabled", "max_pending_referrals", "updated_at",
			}),
		}).Create(&app).Error
		if err != nil {
			return n, fmt.Errorf("seed app %q: %w", app.Prefix, err)
		}
		n++
	}
	return n, nil
}

// SeedFromJSON parses raw as a JSON array of AppSeed and seeds it.
// An empty string seeds nothing.
func (s *AppService) SeedFromJSON(ctx context.Context, raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	var seeds []AppSeed
	if err := json.Unmarshal([]byte(raw), &seeds); err != nil {
		return 0, fmt.Errorf("parse APPS_SEED: %w", err)
	}
	return s.Seed(ctx, seeds)
}

// GetByPrefix returns the app served under prefix, or nil.
func (s *AppService) GetByPrefix(ctx context.Context, prefix string) (*models.App, error) {
	return s.first(ctx, "prefix = ?", strings.ToLower(strings.TrimSpace(prefix)))
}

// Resolve accepts either an app id or a prefix.
func (s *AppService) Resolve(ctx context.Context, idOrPrefix string) (*models.App, error) {
	idOrPrefix = strings.TrimSpace(idOrPrefix)
	if idOrPrefix == "" {
		return nil, nil
	}
	if _, err := uuid.Parse(idOrPrefix); err == nil {
		return s.first(ctx, "id = ?", idOrPrefix)
	}
	return s.GetByPrefix(ctx, idOrPrefix)
}

func (s *AppService) first(ctx context.Context, query string, args ...any) (*models.App, error) {
	var app models.App
	err := s.DB.WithContext(ctx).Where(query, args...).First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find app: %w", err)
	}
	return &app, nil
}
