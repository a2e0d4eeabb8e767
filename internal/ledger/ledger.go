package ledger

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"upicash-bot/internal/models"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// PayoutAddressMax caps stored VPA strings. Longer input is truncated,
// not rejected.
const PayoutAddressMax = 80

// Store owns all balance and join-state mutation. Balance updates are
// guarded conditional UPDATEs so the non-negative invariant holds even
// when the transport delivers two triggers at once.
type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// GetOrCreate registers a user on first contact. Existing rows keep
// their balance and referrer; username is refreshed.
func (s *Store) GetOrCreate(telegramID int64, username string) (*models.User, error) {
	var user models.User
	err := s.DB.Where(models.User{TelegramID: telegramID}).
		Attrs(models.User{
			Username:     username,
			ReferralCode: fmt.Sprintf("ref_%d", telegramID),
		}).
		FirstOrCreate(&user).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get/create user: %w", err)
	}

	changed := false
	if user.ReferralCode == "" {
		user.ReferralCode = fmt.Sprintf("ref_%d", telegramID)
		changed = true
	}
	if username != "" && user.Username != username {
		user.Username = username
		changed = true
	}
	if changed {
		if err := s.DB.Save(&user).Error; err != nil {
			return nil, fmt.Errorf("failed to update user: %w", err)
		}
	}
	return &user, nil
}

func (s *Store) Get(telegramID int64) (*models.User, error) {
	var user models.User
	if err := s.DB.Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetByCode(code string) (*models.User, error) {
	var user models.User
	if err := s.DB.Where("referral_code = ?", code).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Credit adds amount to the user's balance. Non-positive amounts are a
// no-op, so a misconfigured negative bonus cannot turn into a debit.
func (s *Store) Credit(telegramID int64, amount int64) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		return s.CreditTx(tx, telegramID, amount)
	})
}

// CreditTx is Credit inside a caller-owned transaction, so a credit can
// commit atomically with a paired state change (referral flag flip,
// withdrawal refund).
func (s *Store) CreditTx(tx *gorm.DB, telegramID int64, amount int64) error {
	if amount <= 0 {
		return nil
	}
	res := tx.Model(&models.User{}).
		Where("telegram_id = ?", telegramID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Debit subtracts amount from the user's balance, failing with
// ErrInsufficientFunds rather than letting the balance go negative.
func (s *Store) Debit(telegramID int64, amount int64) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		return s.DebitTx(tx, telegramID, amount)
	})
}

// DebitTx guards the subtraction with balance >= amount in the UPDATE
// itself: two concurrent debits can never both succeed past the funds.
func (s *Store) DebitTx(tx *gorm.DB, telegramID int64, amount int64) error {
	if amount <= 0 {
		return nil
	}
	res := tx.Model(&models.User{}).
		Where("telegram_id = ? AND balance >= ?", telegramID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&models.User{}).Where("telegram_id = ?", telegramID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrUserNotFound
		}
		return ErrInsufficientFunds
	}
	return nil
}

// SetPayoutAddress overwrites the user's VPA, truncating to
// PayoutAddressMax characters.
func (s *Store) SetPayoutAddress(telegramID int64, address string) error {
	if len(address) > PayoutAddressMax {
		address = address[:PayoutAddressMax]
	}
	res := s.DB.Model(&models.User{}).
		Where("telegram_id = ?", telegramID).
		Update("payout_address", address)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// MarkJoined records that the user currently satisfies the required
// channels. Idempotent: the join timestamp is stamped only on the
// false -> true transition.
func (s *Store) MarkJoined(telegramID int64) error {
	now := time.Now()
	res := s.DB.Model(&models.User{}).
		Where("telegram_id = ? AND joined = ?", telegramID, false).
		Updates(map[string]interface{}{"joined": true, "joined_at": &now})
	if res.Error != nil {
		return res.Error
	}
	return nil
}

// ResetOnLeave zeroes the balance and clears the joined flag. Unspent
// credits are forfeited as the leave-channel penalty; the user row
// itself is kept.
func (s *Store) ResetOnLeave(telegramID int64) error {
	res := s.DB.Model(&models.User{}).
		Where("telegram_id = ?", telegramID).
		Updates(map[string]interface{}{"balance": 0, "joined": false})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

type Stats struct {
	TotalUsers  int64
	JoinedUsers int64
}

func (s *Store) Stats() (Stats, error) {
	var stats Stats
	if err := s.DB.Model(&models.User{}).Count(&stats.TotalUsers).Error; err != nil {
		return stats, err
	}
	if err := s.DB.Model(&models.User{}).Where("joined = ?", true).Count(&stats.JoinedUsers).Error; err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *Store) AllUsers() ([]models.User, error) {
	var users []models.User
	if err := s.DB.Order("id asc").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
