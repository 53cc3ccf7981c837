package models

import (
	"strings"
	"time"
)

// LinkKind tags what a deferred link points at.
type LinkKind string

const (
	LinkKindPlain    LinkKind = "plain"
	LinkKindReferral LinkKind = "referral"
)

const referralPathPrefix = "/referral/"

// LinkTarget is the destination of a deferred link, decided when the link is stored.
// For referral targets Path is always "/referral/{code}".
type LinkTarget struct {
	Kind         LinkKind
	Path         string
	ReferralCode string
}

// PlainTarget points at an ordinary in-app path.
func PlainTarget(path string) LinkTarget {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return LinkTarget{Kind: LinkKindPlain, Path: path}
}

// ReferralTarget points at the referral landing for code.
func ReferralTarget(code string) LinkTarget {
	code = strings.ToUpper(strings.TrimSpace(code))
	return LinkTarget{Kind: LinkKindReferral, Path: referralPathPrefix + code, ReferralCode: code}
}

// ParseTarget classifies an app-relative path. "/referral/{code}" with an
// alphanumeric code becomes a referral target; anything else is plain.
func ParseTarget(path string) LinkTarget {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if rest, ok := strings.CutPrefix(path, referralPathPrefix); ok {
		code := strings.TrimSuffix(rest, "/")
		if isReferralCode(code) {
			return ReferralTarget(code)
		}
	}
	return PlainTarget(path)
}

func isReferralCode(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// DeviceSignals is a snapshot of device/network characteristics. It is stored
// on a DeferredLink at click time and supplied again at claim time.
type DeviceSignals struct {
	IP           string  `json:"ip"`
	Timezone     *string `json:"timezone,omitempty"`
	Language     *string `json:"language,omitempty"`
	ScreenWidth  *int    `json:"screen_width,omitempty"`
	ScreenHeight *int    `json:"screen_height,omitempty"`
}

// DeferredLink is a pending attribution record created when a link is clicked
// on a device that may not have the app installed yet.
type DeferredLink struct {
	ID            string   `gorm:"primaryKey;type:uuid" json:"id"`
	AppID         string   `gorm:"type:uuid;not null;index:idx_deferred_links_app_ip" json:"app_id"`
	ReferrerToken string   `gorm:"uniqueIndex;size:32;not null" json:"referrer_token"`
	Fingerprint   string   `gorm:"size:64;index" json:"fingerprint,omitempty"`
	Kind          LinkKind `gorm:"size:16;not null;default:'plain'" json:"kind"`
	DeepLinkPath  string   `gorm:"type:text;not null" json:"deep_link_path"`
	ReferralCode  *string  `gorm:"size:32;index" json:"referral_code,omitempty"`

	// Signals captured at click time (IP) and by the follow-up page (the rest)
	IP           string  `gorm:"size:45;not null;index:idx_deferred_links_app_ip" json:"ip"`
	Timezone     *string `gorm:"size:64" json:"timezone,omitempty"`
	Language     *string `gorm:"size:35" json:"language,omitempty"`
	ScreenWidth  *int    `json:"screen_width,omitempty"`
	ScreenHeight *int    `json:"screen_height,omitempty"`

	Claimed   bool       `gorm:"not null;default:false;index" json:"claimed"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	ExpiresAt time.Time  `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time  `gorm:"not null;index" json:"created_at"`
}

// Signals returns the stored signal snapshot.
func (l *DeferredLink) Signals() DeviceSignals {
	return DeviceSignals{
		IP:           l.IP,
		Timezone:     l.Timezone,
		Language:     l.Language,
		ScreenWidth:  l.ScreenWidth,
		ScreenHeight: l.ScreenHeight,
	}
}

// Target rebuilds the tagged destination from the stored columns.
func (l *DeferredLink) Target() LinkTarget {
	if l.Kind == LinkKindReferral && l.ReferralCode != nil {
		return ReferralTarget(*l.ReferralCode)
	}
	return LinkTarget{Kind: LinkKindPlain, Path: l.DeepLinkPath}
}

// Claimable reports whether the link can still be claimed at now.
func (l *DeferredLink) Claimable(now time.Time) bool {
	return !l.Claimed && now.Before(l.ExpiresAt)
}
