package models

type Setting struct {
	Key   string `gorm:"primaryKey;size:64"`
	Value int64  `gorm:"not null"`
}
