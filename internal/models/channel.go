package models

import (
	"time"
)

type RequiredChannel struct {
	ID        uint   `gorm:"primaryKey"`
	ChatID    int64  `gorm:"uniqueIndex;not null"`
	Title     string `gorm:"size:255"`
	CreatedAt time.Time
}
