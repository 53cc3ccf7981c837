package handlers

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"app-link-service/models"
	"app-link-service/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLandingThenTokenClaim(t *testing.T) {
	s := newTestServer(t)

	status, page := s.raw(t, request{method: http.MethodGet, path: "/game/m/xyz"})
	require.Equal(t, http.StatusOK, status)

	var link models.DeferredLink
	require.NoError(t, s.db.First(&link).Error)
	assert.Equal(t, gameAppID, link.AppID)
	assert.Equal(t, "/m/xyz", link.DeepLinkPath)
	assert.Equal(t, models.LinkKindPlain, link.Kind)
	assert.Equal(t, clientIP, link.IP)
	assert.Equal(t, services.Fingerprint(clientIP, iphoneUA), link.Fingerprint)

	body := string(page)
	assert.Contains(t, body, "My Game")
	assert.Contains(t, body, "referrer="+link.ReferrerToken)
	assert.Contains(t, body, "https://apps.apple.com/app/id123456")

	claimPath := "/api/deferred/claim?token=" + url.QueryEscape(link.ReferrerToken)
	status, resp := s.json(t, request{method: http.MethodGet, path: claimPath})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "/m/xyz", resp["path"])
	assert.NotContains(t, resp, "referrer_id")

	status, resp = s.json(t, request{method: http.MethodGet, path: claimPath})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, false, resp["success"])
}

func TestLandingSkipsCrawlers(t *testing.T) {
	s := newTestServer(t)

	status, page := s.raw(t, request{
		method:  http.MethodGet,
		path:    "/game/m/xyz",
		headers: map[string]string{"User-Agent": "facebookexternalhit/1.1"},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(page), "My Game")

	var count int64
	require.NoError(t, s.db.Model(&models.DeferredLink{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestLandingUnknownApp(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.raw(t, request{method: http.MethodGet, path: "/nope/m/xyz"})
	assert.Equal(t, http.StatusNotFound, status)
}

func postSignals(t *testing.T, s *testServer, token string) {
	t.Helper()
	status, resp := s.json(t, request{
		method: http.MethodPost,
		path:   "/api/deferred/signals",
		body: map[string]any{
			"referrer_token": token,
			"timezone":       "Europe/Berlin",
			"language":       "de-DE",
			"screen_width":   390,
			"screen_height":  844,
		},
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, resp["success"])
}

func TestSignalClaimPrefersNewestMatchingClick(t *testing.T) {
	s := newTestServer(t)

	first := s.click(t, "/game/m/first", nil)
	postSignals(t, s, first.ReferrerToken)
	s.clock.Advance(10 * time.Minute)
	second := s.click(t, "/game/m/second", nil)
	postSignals(t, s, second.ReferrerToken)
	s.clock.Advance(time.Minute)

	claimPath := "/api/deferred/claim?app_id=game&timezone=Europe%2FBerlin&language=de_DE&screen_width=392&screen_height=844"
	status, resp := s.json(t, request{method: http.MethodGet, path: claimPath})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/m/second", resp["path"])

	status, resp = s.json(t, request{method: http.MethodGet, path: claimPath})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/m/first", resp["path"])

	status, _ = s.json(t, request{method: http.MethodGet, path: claimPath})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSignalClaimUsesExplicitIP(t *testing.T) {
	s := newTestServer(t)

	link := s.click(t, "/game/m/xyz", nil)
	postSignals(t, s, link.ReferrerToken)

	// The app's own request comes from a different network than the click.
	other := map[string]string{"X-Forwarded-For": "198.51.100.23"}
	status, _ := s.json(t, request{method: http.MethodGet, path: "/api/deferred/claim?app_id=game&timezone=Europe%2FBerlin", headers: other})
	assert.Equal(t, http.StatusNotFound, status)

	status, resp := s.json(t, request{
		method:  http.MethodGet,
		path:    "/api/deferred/claim?app_id=" + gameAppID + "&ip=" + clientIP + "&timezone=Europe%2FBerlin",
		headers: other,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/m/xyz", resp["path"])
}

func TestClaimWithOnlyRequestIPFallsBack(t *testing.T) {
	s := newTestServer(t)

	s.click(t, "/game/m/xyz", nil)

	status, resp := s.json(t, request{method: http.MethodGet, path: "/api/deferred/claim?app_id=game"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/m/xyz", resp["path"])
}

func TestClaimByLegacyFingerprint(t *testing.T) {
	s := newTestServer(t)

	s.click(t, "/game/m/xyz", nil)
	fp := services.Fingerprint(clientIP, iphoneUA)

	status, resp := s.json(t, request{
		method:  http.MethodGet,
		path:    "/api/deferred/claim?app_id=game&fingerprint=" + fp,
		headers: map[string]string{"X-Forwarded-For": "198.51.100.23"},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/m/xyz", resp["path"])
}

func TestClaimValidation(t *testing.T) {
	s := newTestServer(t)

	status, resp := s.json(t, request{method: http.MethodGet, path: "/api/deferred/claim"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, resp["success"])

	status, _ = s.json(t, request{method: http.MethodGet, path: "/api/deferred/claim?app_id=unknown"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.json(t, request{method: http.MethodGet, path: "/api/deferred/claim?token=missing"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCaptureSignalsValidation(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.json(t, request{method: http.MethodPost, path: "/api/deferred/signals", body: map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, resp := s.json(t, request{
		method: http.MethodPost,
		path:   "/api/deferred/signals",
		body:   map[string]any{"referrer_token": "unknown", "timezone": "UTC"},
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, resp["success"])
}

func TestCleanupEndpoint(t *testing.T) {
	s := newTestServer(t)

	link := s.click(t, "/game/m/xyz", nil)
	s.clock.Advance(time.Minute)
	s.click(t, "/game/m/live", nil)
	status, _ := s.json(t, request{method: http.MethodGet, path: "/api/deferred/claim?token=" + url.QueryEscape(link.ReferrerToken)})
	require.Equal(t, http.StatusOK, status)

	status, _ = s.json(t, request{method: http.MethodPost, path: "/api/deferred/cleanup"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, resp := s.json(t, request{
		method:  http.MethodPost,
		path:    "/api/deferred/cleanup",
		headers: map[string]string{"X-Cleanup-Key": cleanupKey},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["success"])
	assert.EqualValues(t, 1, resp["deleted"])
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	status, resp := s.json(t, request{method: http.MethodGet, path: "/healthz"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", resp["status"])

	s.click(t, "/game/m/xyz", nil)
	status, body := s.raw(t, request{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(string(body), `deferred_links_stored_total{kind="plain"} 1`))
}

func TestWithPlayReferrer(t *testing.T) {
	assert.Equal(t,
		"https://play.google.com/store/apps/details?id=com.example&referrer=abc_-123",
		withPlayReferrer("https://play.google.com/store/apps/details?id=com.example", "abc_-123"))
	assert.Equal(t, "", withPlayReferrer("", "abc"))
	assert.Equal(t, "https://x", withPlayReferrer("https://x", ""))
}
