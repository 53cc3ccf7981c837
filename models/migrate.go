package models

import (
	"fmt"

	"gorm.io/gorm"
)

// pendingReferralIndex allows at most one pending referral per (app, referrer).
const pendingReferralIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_referrals_one_pending
	ON referrals (app_id, referrer_id) WHERE status = 'pending'`

// Migrate creates or updates every table, then adds the indexes struct tags cannot express.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&App{}, &DeferredLink{}, &Referral{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec(pendingReferralIndex).Error; err != nil {
		return fmt.Errorf("create pending referral index: %w", err)
	}
	return nil
}
