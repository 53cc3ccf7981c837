package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"app-link-service/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testAppID   = "6f1d2c3a-8a4b-4c1e-9f0a-1b2c3d4e5f60"
	otherAppID  = "7a2e3d4b-9b5c-4d2f-8e1b-2c3d4e5f6071"
	testIP      = "203.0.113.7"
	otherTestIP = "198.51.100.23"
)

func newTestDB(t *testing.T) *gorm.DB {
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
	return db
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
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

type testEnv struct {
	db        *gorm.DB
	clock     *testClock
	links     *LinkStore
	referrals *ReferralService
	resolver  *ClaimResolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	clock := newTestClock()

	links := NewLinkStore(db, 24*time.Hour)
	links.Now = clock.Now
	referrals := NewReferralService(db, nil)
	referrals.Now = clock.Now

	return &testEnv{
		db:        db,
		clock:     clock,
		links:     links,
		referrals: referrals,
		resolver:  NewClaimResolver(links, referrals, DefaultMatchConfig(), nil),
	}
}

// sequenceTokens hands out the given tokens in order, then fails the test.
func sequenceTokens(t *testing.T, tokens ...string) func() (string, error) {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(tokens) {
			t.Fatalf("token generator exhausted after %d tokens", len(tokens))
		}
		tok := tokens[i]
		i++
		return tok, nil
	}
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func phoneSignals(ip string) models.DeviceSignals {
	return models.DeviceSignals{
		IP:           ip,
		Timezone:     strPtr("Europe/Berlin"),
		Language:     strPtr("de-DE"),
		ScreenWidth:  intPtr(390),
		ScreenHeight: intPtr(844),
	}
}
