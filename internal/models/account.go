package models

import (
	"time"

	"gorm.io/gorm"
)

// Account represents the EVM address the dashboard tracks
type Account struct {
	gorm.Model
	Address       string    `gorm:"size:42;uniqueIndex;not null"`
	LastRefreshed time.Time `gorm:"index"`

	// Relationships
	Snapshots []PositionSnapshot `gorm:"foreignKey:AccountID"`
	Actions   []ActionRecord     `gorm:"foreignKey:AccountID"`
}
