package services

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
	"time"

	"app-link-service/models"

	"golang.org/x/text/language"
)

// MaxSignalScore is the best possible ScoreSignals result.
const MaxSignalScore = 4

// MatchConfig tunes the probabilistic claim path.
type MatchConfig struct {
	Window          time.Duration // how far back a click may be and still match
	ScreenTolerance int           // pixels
	MinScore        int
}

func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		Window:          2 * time.Hour,
		ScreenTolerance: 50,
		MinScore:        2,
	}
}

// ScoreSignals compares a stored snapshot with the one supplied at claim time.
// Each dimension present on both sides adds 1 when it matches; a dimension
// missing on either side adds nothing.
func ScoreSignals(stored, claimed models.DeviceSignals, screenTolerance int) int {
	score := 0
	if stored.Timezone != nil && claimed.Timezone != nil && *stored.Timezone == *claimed.Timezone {
		score++
	}
	if stored.Language != nil && claimed.Language != nil && *stored.Language == *claimed.Language {
		score++
	}
	if withinTolerance(stored.ScreenWidth, claimed.ScreenWidth, screenTolerance) {
		score++
	}
	if withinTolerance(stored.ScreenHeight, claimed.ScreenHeight, screenTolerance) {
		score++
	}
	return score
}

func withinTolerance(a, b *int, tolerance int) bool {
	if a == nil || b == nil {
		return false
	}
	d := *a - *b
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

// NormalizeLanguage canonicalizes a locale ("en_us" → "en-US"). Values that
// do not parse as BCP 47 are returned trimmed but otherwise untouched.
func NormalizeLanguage(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	tag, err := language.Parse(strings.ReplaceAll(s, "_", "-"))
	if err != nil {
		return s
	}
	return tag.String()
}

// NormalizeSignals canonicalizes the IP and drops empty, unparsable or
// non-positive values so they count as missing.
func NormalizeSignals(s models.DeviceSignals) models.DeviceSignals {
	out := models.DeviceSignals{IP: parseIP(s.IP)}
	if s.Timezone != nil {
		if tz := strings.TrimSpace(*s.Timezone); tz != "" {
			out.Timezone = &tz
		}
	}
	if s.Language != nil {
		if lang := NormalizeLanguage(*s.Language); lang != "" {
			out.Language = &lang
		}
	}
	if s.ScreenWidth != nil && *s.ScreenWidth > 0 {
		w := *s.ScreenWidth
		out.ScreenWidth = &w
	}
	if s.ScreenHeight != nil && *s.ScreenHeight > 0 {
		h := *s.ScreenHeight
		out.ScreenHeight = &h
	}
	return out
}

// Fingerprint is the legacy matching key: sha256(IP + User-Agent) in hex.
func Fingerprint(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + userAgent))
	return hex.EncodeToString(sum[:])
}

// ClientAddressHeaders are the proxy headers consulted by ResolveClientAddress.
type ClientAddressHeaders struct {
	ForwardedFor string // X-Forwarded-For
	RealIP       string // X-Real-IP
}

// ResolveClientAddress picks the client IP. Proxy headers are only honoured
// when trustProxy is set; precedence is the first X-Forwarded-For entry, then
// X-Real-IP, then the socket address.
func ResolveClientAddress(h ClientAddressHeaders, socketAddr string, trustProxy bool) string {
	if trustProxy {
		if first, _, _ := strings.Cut(h.ForwardedFor, ","); first != "" {
			if ip := parseIP(first); ip != "" {
				return ip
			}
		}
		if ip := parseIP(h.RealIP); ip != "" {
			return ip
		}
	}
	return parseIP(socketAddr)
}

func parseIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	ip := net.ParseIP(strings.Trim(s, "[]"))
	if ip == nil {
		return ""
	}
	return ip.String()
}
