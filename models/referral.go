package models

import "time"

// ReferralStatus only ever moves pending → completed or pending → expired.
type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusCompleted ReferralStatus = "completed"
	ReferralStatusExpired   ReferralStatus = "expired"
)

// Well-known milestones. Applications may set any other value.
const (
	MilestonePending   = "pending"
	MilestoneInstalled = "installed"
	MilestoneCompleted = "completed"
)

// Metadata is an opaque key/value bag stored as JSON.
type Metadata map[string]any

// Referral tracks one user-to-user referral identified by its code.
type Referral struct {
	ID             string         `gorm:"primaryKey;type:uuid" json:"id"`
	AppID          string         `gorm:"type:uuid;not null;index:idx_referrals_app_referrer" json:"app_id"`
	ReferrerID     string         `gorm:"not null;index:idx_referrals_app_referrer" json:"referrer_id"` // caller-supplied
	ReferralCode   string         `gorm:"uniqueIndex;size:16;not null" json:"referral_code"`
	ReferredUserID *string        `gorm:"index" json:"referred_user_id,omitempty"`
	Status         ReferralStatus `gorm:"size:16;not null;default:'pending';index" json:"status"`
	Milestone      string         `gorm:"size:64;not null;default:'pending'" json:"milestone"`
	Metadata       Metadata       `gorm:"type:text;serializer:json" json:"metadata,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`

	Timestamps
}
