package models

import (
	"time"
)

type WithdrawStatus string

const (
	WithdrawStatusPending  WithdrawStatus = "pending"
	WithdrawStatusApproved WithdrawStatus = "approved"
	WithdrawStatusDeclined WithdrawStatus = "declined"
)

type WithdrawRequest struct {
	ID            uint           `gorm:"primaryKey"`
	UserID        uint           `gorm:"not null;index"`
	User          User           `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	Amount        int64          `gorm:"not null"`
	PayoutAddress string         `gorm:"size:80"` // VPA snapshot at request time
	Status        WithdrawStatus `gorm:"size:16;default:'pending';index"`
	Reference     string         `gorm:"size:36"`
	AdminNote     string         `gorm:"size:255"`
	RequestedAt   time.Time
	ProcessedAt   *time.Time
}
