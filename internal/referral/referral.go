package referral

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"upicash-bot/internal/ledger"
	"upicash-bot/internal/models"
	"upicash-bot/internal/settings"
)

// Tracker records referrer -> referee edges and pays out the one-time
// joining bonus. The edge's credited flag is the sole guard against
// double-crediting, so the flip and both credits share one transaction.
type Tracker struct {
	DB       *gorm.DB
	Ledger   *ledger.Store
	Settings *settings.Store
}

func NewTracker(db *gorm.DB, ledgerStore *ledger.Store, settingsStore *settings.Store) *Tracker {
	return &Tracker{DB: db, Ledger: ledgerStore, Settings: settingsStore}
}

// Record links the referee to the owner of code. First referrer wins:
// a referee that already has an edge, an unknown code, and a
// self-referral are all silent no-ops.
func (t *Tracker) Record(code string, refereeTelegramID int64) error {
	referrer, err := t.Ledger.GetByCode(code)
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			return nil
		}
		return err
	}

	referee, err := t.Ledger.Get(refereeTelegramID)
	if err != nil {
		return err
	}
	if referee.ID == referrer.ID || referee.ReferrerID != nil {
		return nil
	}

	return t.DB.Transaction(func(tx *gorm.DB) error {
		// Set the referrer only if still unset; a concurrent /start
		// with another code loses here.
		res := tx.Model(&models.User{}).
			Where("id = ? AND referrer_id IS NULL", referee.ID).
			Update("referrer_id", referrer.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.Referral{
			ReferrerID: referrer.ID,
			RefereeID:  referee.ID,
		}).Error
	})
}

// CreditIfNeeded pays the referral bonuses for the referee's edge if it
// has not been credited yet. Returns true when this call performed the
// crediting. Safe to invoke from every trigger (explicit verify,
// passive recheck, chat-member push): the conditional flag flip makes
// duplicate and concurrent calls a no-op.
func (t *Tracker) CreditIfNeeded(refereeTelegramID int64) (bool, error) {
	referee, err := t.Ledger.Get(refereeTelegramID)
	if err != nil {
		return false, err
	}
	if referee.ReferrerID == nil {
		return false, nil
	}

	referralBonus := t.Settings.Get(settings.KeyReferralBonus, 0)
	refereeBonus := t.Settings.Get(settings.KeyRefereeBonus, 0)

	credited := false
	err = t.DB.Transaction(func(tx *gorm.DB) error {
		var edge models.Referral
		if err := tx.Where("referee_id = ?", referee.ID).First(&edge).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if edge.Credited {
			return nil
		}

		now := time.Now()
		res := tx.Model(&models.Referral{}).
			Where("id = ? AND credited = ?", edge.ID, false).
			Updates(map[string]interface{}{
				"credited":       true,
				"credited_at":    &now,
				"referrer_bonus": referralBonus,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Another trigger won the race.
			return nil
		}

		var referrer models.User
		if err := tx.First(&referrer, edge.ReferrerID).Error; err != nil {
			return err
		}
		if err := t.Ledger.CreditTx(tx, referrer.TelegramID, referralBonus); err != nil {
			return err
		}
		if err := t.Ledger.CreditTx(tx, referee.TelegramID, refereeBonus); err != nil {
			return err
		}
		credited = true
		return nil
	})
	return credited, err
}

type ReferrerStats struct {
	Invited     int64
	Credited    int64
	TotalEarned int64
}

// StatsFor summarizes a referrer's program results for the /refer view.
func (t *Tracker) StatsFor(referrerID uint) (ReferrerStats, error) {
	var stats ReferrerStats
	if err := t.DB.Model(&models.Referral{}).Where("referrer_id = ?", referrerID).Count(&stats.Invited).Error; err != nil {
		return stats, err
	}
	if err := t.DB.Model(&models.Referral{}).Where("referrer_id = ? AND credited = ?", referrerID, true).Count(&stats.Credited).Error; err != nil {
		return stats, err
	}
	err := t.DB.Model(&models.Referral{}).
		Where("referrer_id = ? AND credited = ?", referrerID, true).
		Select("COALESCE(SUM(referrer_bonus), 0)").
		Scan(&stats.TotalEarned).Error
	return stats, err
}
