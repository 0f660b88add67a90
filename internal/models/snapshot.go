package models

import (
	"time"

	"gorm.io/gorm"
)

// PositionSnapshot is one persisted refresh of a position.
// Amounts are exact decimal strings; USD columns are nil while unknown.
type PositionSnapshot struct {
	gorm.Model
	AccountID  uint   `gorm:"index;not null"`
	PositionID string `gorm:"size:64;index;not null"`

	// Token amounts
	WalletBalance *string `gorm:"size:96"`
	Staked        *string `gorm:"size:96"`
	PendingReward *string `gorm:"size:96"`

	// USD metrics
	DepositPriceUSD *string `gorm:"size:64"`
	RewardPriceUSD  *string `gorm:"size:64"`
	WalletUSD       *string `gorm:"size:64"`
	StakedUSD       *string `gorm:"size:64"`
	EarnedUSD       *string `gorm:"size:64"`
	DailyAPR        *string `gorm:"size:64"`
	TVL             *string `gorm:"size:64"`

	Approved    bool
	Stale       bool      `gorm:"index"`
	StaleFields string    `gorm:"size:255"`
	BuiltAt     time.Time `gorm:"index"`

	// Full snapshot as JSON
	Payload string `gorm:"type:text"`
}
