package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"app-link-service/middleware"
	"app-link-service/models"
	"app-link-service/services"
	"app-link-service/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	gameAppID  = "6f1d2c3a-8a4b-4c1e-9f0a-1b2c3d4e5f60"
	apiKey     = "test-api-key"
	cleanupKey = "test-cleanup-key"
	baseURL    = "https://links.example.com"

	iphoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15"
	clientIP = "203.0.113.7"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServer struct {
	app       *fiber.App
	db        *gorm.DB
	clock     *testClock
	referrals *services.ReferralService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.Migrate(db))

	ctx := context.Background()
	apps := services.NewAppService(db)
	_, err = apps.Seed(ctx, []services.AppSeed{
		{
			ID:                  gameAppID,
			Name:                "My Game",
			Prefix:              "game",
			IOSStoreURL:         "https://apps.apple.com/app/id123456",
			AndroidStoreURL:     "https://play.google.com/store/apps/details?id=com.example.game",
			ReferralsEnabled:    true,
			MaxPendingReferrals: 2,
		},
		{Name: "Quiet", Prefix: "quiet"},
	})
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	metrics := services.NewMetrics()
	links := services.NewLinkStore(db, 24*time.Hour)
	links.Now = clock.Now
	links.Metrics = metrics
	referrals := services.NewReferralService(db, metrics)
	referrals.Now = clock.Now
	resolver := services.NewClaimResolver(links, referrals, services.DefaultMatchConfig(), metrics)
	sweeper := workers.NewSweeper(links, referrals, metrics, time.Hour, 24*time.Hour, 30)

	app := fiber.New()
	app.Use(middleware.ClientAddressMiddleware(true))

	deferred := &DeferredHandler{Apps: apps, Links: links, Resolver: resolver, Cleaner: sweeper}
	SetupSystemRoutes(app, db, metrics.Registry)
	SetupDeferredRoutes(app, deferred, middleware.RateLimiter(1000, time.Minute, nil), cleanupKey)
	SetupReferralRoutes(app, &ReferralHandler{
		Apps:           apps,
		Referrals:      referrals,
		PublicBaseURL:  baseURL,
		ReferralWindow: 30 * 24 * time.Hour,
	}, apiKey)
	SetupLandingRoutes(app, deferred)

	return &testServer{app: app, db: db, clock: clock, referrals: referrals}
}

type request struct {
	method  string
	path    string
	body    any
	headers map[string]string
}

func (s *testServer) raw(t *testing.T, r request) (int, []byte) {
	t.Helper()
	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(r.method, r.path, body)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Forwarded-For", clientIP)
	req.Header.Set("User-Agent", iphoneUA)
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (s *testServer) json(t *testing.T, r request) (int, map[string]any) {
	t.Helper()
	status, body := s.raw(t, r)
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return status, out
}

// click visits a link and returns the stored deferred link.
func (s *testServer) click(t *testing.T, path string, headers map[string]string) *models.DeferredLink {
	t.Helper()
	status, _ := s.raw(t, request{method: http.MethodGet, path: path, headers: headers})
	require.Equal(t, http.StatusOK, status)

	var link models.DeferredLink
	require.NoError(t, s.db.Order("created_at DESC").First(&link).Error)
	return &link
}

func withAPIKey(h map[string]string) map[string]string {
	out := map[string]string{"X-API-Key": apiKey}
	for k, v := range h {
		out[k] = v
	}
	return out
}
