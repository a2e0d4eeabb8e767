package models

import (
	"time"
)

type Referral struct {
	ID            uint `gorm:"primaryKey"`
	ReferrerID    uint `gorm:"not null;index"`
	RefereeID     uint `gorm:"not null;uniqueIndex"`
	Credited      bool `gorm:"default:false"`
	ReferrerBonus int64
	CreditedAt    *time.Time
	CreatedAt     time.Time
}
