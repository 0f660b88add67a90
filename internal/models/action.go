package models

import (
	"time"

	"gorm.io/gorm"
)

// Action record statuses
const (
	ActionPending   = "pending"
	ActionSucceeded = "succeeded"
	ActionFailed    = "failed"
)

// ActionRecord is the audit row of one dispatched action
type ActionRecord struct {
	gorm.Model
	RequestID  string `gorm:"size:36;uniqueIndex;not null"`
	AccountID  uint   `gorm:"index;not null"`
	PositionID string `gorm:"size:64;index;not null"`
	Kind       string `gorm:"size:16;index"`
	Amount     string `gorm:"size:96"`
	Status     string `gorm:"size:16;index;default:pending"`
	Reason     string
	TxHash     string `gorm:"size:66"`

	SubmittedAt time.Time `gorm:"index"`
	SettledAt   *time.Time
}
