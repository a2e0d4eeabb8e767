package models

import (
	"time"
)

type User struct {
	ID            uint   `gorm:"primaryKey"`
	TelegramID    int64  `gorm:"uniqueIndex;not null"`
	Username      string `gorm:"size:255"`
	PayoutAddress string `gorm:"size:80"` // UPI VPA for manual cash-out
	Balance       int64  `gorm:"not null;default:0"`
	ReferrerID    *uint  `gorm:"index"`
	ReferralCode  string `gorm:"size:32;uniqueIndex"`
	Joined        bool   `gorm:"default:false"`
	JoinedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
