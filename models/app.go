package models

// App is one mobile application whose links are served under /{prefix}/...
// Apps are managed by the admin surface; this service only reads them
// (and seeds them from APPS_SEED at start).
type App struct {
	ID              string `gorm:"primaryKey;type:uuid" json:"id"`
	Name            string `gorm:"not null" json:"name"`
	Prefix          string `gorm:"uniqueIndex;size:64;not null" json:"prefix"` // URL path prefix, slugged
	IOSStoreURL     string `gorm:"type:text" json:"ios_store_url,omitempty"`
	AndroidStoreURL string `gorm:"type:text" json:"android_store_url,omitempty"`

	// Referral settings
	ReferralsEnabled    bool `json:"referrals_enabled"`
	MaxPendingReferrals int  `json:"max_pending_referrals"` // per referrer, 0 = no cap

	Timestamps
}
