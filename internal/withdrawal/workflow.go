package withdrawal

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"upicash-bot/internal/ledger"
	"upicash-bot/internal/models"
	"upicash-bot/internal/settings"
)

var (
	ErrNoPayoutAddress = errors.New("no payout address set")
	ErrBelowMinimum    = errors.New("amount below minimum withdrawal")
	ErrPendingExists   = errors.New("a pending withdrawal already exists")
	ErrNotFound        = errors.New("no pending withdrawal with that id")
)

// Workflow implements the manual cash-out lifecycle:
// pending -> approved or pending -> declined, both terminal.
//
// Reservation policy: the requested amount is debited when the request
// is created. Decline refunds it; approve only flips status, since the
// funds already left the balance. The round trip request-then-decline
// therefore restores the balance exactly, and a leave-channel balance
// reset between request and approval cannot drive the balance negative.
type Workflow struct {
	DB       *gorm.DB
	Ledger   *ledger.Store
	Settings *settings.Store
}

func NewWorkflow(db *gorm.DB, ledgerStore *ledger.Store, settingsStore *settings.Store) *Workflow {
	return &Workflow{DB: db, Ledger: ledgerStore, Settings: settingsStore}
}

// Request reserves amount from the user's balance and files a pending
// withdrawal to the user's current VPA. One pending request per user.
func (w *Workflow) Request(telegramID int64, amount int64) (*models.WithdrawRequest, error) {
	minWithdraw := w.Settings.Get(settings.KeyMinWithdraw, 0)
	if amount <= 0 || amount < minWithdraw {
		return nil, ErrBelowMinimum
	}

	var req models.WithdrawRequest
	err := w.DB.Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ledger.ErrUserNotFound
			}
			return err
		}
		if user.PayoutAddress == "" {
			return ErrNoPayoutAddress
		}

		var pending int64
		err := tx.Model(&models.WithdrawRequest{}).
			Where("user_id = ? AND status = ?", user.ID, models.WithdrawStatusPending).
			Count(&pending).Error
		if err != nil {
			return err
		}
		if pending > 0 {
			return ErrPendingExists
		}

		if err := w.Ledger.DebitTx(tx, telegramID, amount); err != nil {
			return err
		}

		req = models.WithdrawRequest{
			UserID:        user.ID,
			Amount:        amount,
			PayoutAddress: user.PayoutAddress,
			Status:        models.WithdrawStatusPending,
			RequestedAt:   time.Now(),
		}
		return tx.Create(&req).Error
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Approve finalizes a pending request. The balance was already reserved
// at request time, so this is a pure status transition plus a payout
// reference for the admin's manual transfer. ErrNotFound covers both
// unknown and already-terminal ids.
func (w *Workflow) Approve(id uint, note string) (*models.WithdrawRequest, error) {
	return w.finalize(id, models.WithdrawStatusApproved, note, false)
}

// Decline rejects a pending request and refunds the reserved amount.
func (w *Workflow) Decline(id uint, reason string) (*models.WithdrawRequest, error) {
	return w.finalize(id, models.WithdrawStatusDeclined, reason, true)
}

func (w *Workflow) finalize(id uint, status models.WithdrawStatus, note string, refund bool) (*models.WithdrawRequest, error) {
	var req models.WithdrawRequest
	err := w.DB.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		updates := map[string]interface{}{
			"status":       status,
			"admin_note":   note,
			"processed_at": &now,
		}
		if status == models.WithdrawStatusApproved {
			updates["reference"] = uuid.New().String()
		}

		res := tx.Model(&models.WithdrawRequest{}).
			Where("id = ? AND status = ?", id, models.WithdrawStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		if err := tx.Preload("User").First(&req, id).Error; err != nil {
			return err
		}
		if refund {
			return w.Ledger.CreditTx(tx, req.User.TelegramID, req.Amount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListPending returns pending requests oldest first for admin triage.
func (w *Workflow) ListPending() ([]models.WithdrawRequest, error) {
	var requests []models.WithdrawRequest
	err := w.DB.Preload("User").
		Where("status = ?", models.WithdrawStatusPending).
		Order("requested_at asc").
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (w *Workflow) PendingCount() (int64, error) {
	var count int64
	err := w.DB.Model(&models.WithdrawRequest{}).
		Where("status = ?", models.WithdrawStatusPending).
		Count(&count).Error
	return count, err
}
