package settings

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"upicash-bot/internal/models"
)

// Keys the bot reads at runtime. Values are plain integers; negative
// values are stored as given and defused downstream (a non-positive
// bonus credits nothing).
const (
	KeyReferralBonus = "referral_bonus"
	KeyRefereeBonus  = "referee_bonus"
	KeyMinWithdraw   = "min_withdraw"
)

type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// Get returns the stored value for key, or def if the key is absent.
func (s *Store) Get(key string, def int64) int64 {
	var setting models.Setting
	if err := s.DB.First(&setting, "key = ?", key).Error; err != nil {
		return def
	}
	return setting.Value
}

func (s *Store) Set(key string, value int64) error {
	return s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&models.Setting{Key: key, Value: value}).Error
}

// Seed inserts defaults for keys that are not present yet. Existing
// values are left untouched so admin overrides survive restarts.
func (s *Store) Seed(defaults map[string]int64) error {
	for key, value := range defaults {
		err := s.DB.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Setting{Key: key, Value: value}).Error
		if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
	}
	return nil
}
