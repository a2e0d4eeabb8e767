package withdrawal

import (
	"errors"
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"upicash-bot/internal/ledger"
	"upicash-bot/internal/models"
	"upicash-bot/internal/settings"
)

func testWorkflow(t *testing.T) (*Workflow, *ledger.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.WithdrawRequest{}, &models.Setting{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	ledgerStore := ledger.NewStore(db)
	settingsStore := settings.NewStore(db)
	if err := settingsStore.Set(settings.KeyMinWithdraw, 50); err != nil {
		t.Fatalf("set min withdraw: %v", err)
	}
	return NewWorkflow(db, ledgerStore, settingsStore), ledgerStore
}

// fundedUser registers a user with a VPA and a 100-credit balance.
func fundedUser(t *testing.T, store *ledger.Store, telegramID int64) {
	t.Helper()
	if _, err := store.GetOrCreate(telegramID, "u"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := store.SetPayoutAddress(telegramID, "user@upi"); err != nil {
		t.Fatalf("SetPayoutAddress: %v", err)
	}
	if err := store.Credit(telegramID, 100); err != nil {
		t.Fatalf("Credit: %v", err)
	}
}

func TestRequestBelowMinimum(t *testing.T) {
	workflow, store := testWorkflow(t)
	fundedUser(t, store, 1)

	if _, err := workflow.Request(1, 30); !errors.Is(err, ErrBelowMinimum) {
		t.Errorf("Request(30) = %v, want ErrBelowMinimum", err)
	}
}

func TestRequestWithoutPayoutAddress(t *testing.T) {
	workflow, store := testWorkflow(t)
	if _, err := store.GetOrCreate(1, "u"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := store.Credit(1, 100); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	if _, err := workflow.Request(1, 60); !errors.Is(err, ErrNoPayoutAddress) {
		t.Errorf("Request = %v, want ErrNoPayoutAddress", err)
	}
}

func TestRequestInsufficientFunds(t *testing.T) {
	workflow, store := testWorkflow(t)
	fundedUser(t, store, 1)

	if _, err := workflow.Request(1, 200); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("Request(200) = %v, want ErrInsufficientFunds", err)
	}

	user, _ := store.Get(1)
	if user.Balance != 100 {
		t.Errorf("balance = %d, want 100 (untouched)", user.Balance)
	}
}

func TestRequestReservesFunds(t *testing.T) {
	workflow, store := testWorkflow(t)
	fundedUser(t, store, 1)

	req, err := workflow.Request(1, 60)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if req.Status != models.WithdrawStatusPending {
		t.Errorf("status = %s, want pending", req.Status)
	}
	if req.PayoutAddress != "user@upi" {
		t.Errorf("payout snapshot = %q, want user@upi", req.PayoutAddress)
	}

	user, _ := store.Get(1)
	if user.Balance != 40 {
		t.Errorf("balance = %d, want 40 (60 reserved)", user.Balance)
	}
}

func TestRequestOnlyOnePending(t *testing.T) {
	workflow, store := testWorkflow(t)
	fundedUser(t, store, 1)

	if _, err := workflow.Request(1, 50); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := workflow.Request(1, 50); !errors.Is(err, ErrPendingExists) {
		t.Errorf("second Request = %v, want ErrPendingExists", err)
	}
}

func TestDeclineRefundsExactly(t *testing.T) {
	workflow, store := testWorkflow(t)
	fundedUser(t, store, 1)

	req, err := workflow.Request(1, 60)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	declined, err := workflow.Decline(req.ID, "suspicious")
	if err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if declined.Status != models.WithdrawStatusDeclined {
		t.Errorf("status = %s, want declined", declined.Status)
	}
	if declined.AdminNote != "suspicious" {
		t.Errorf("note = %q, want reason stored", declined.AdminNote)
	}
	if declined.ProcessedAt == nil {
		t.Error("processed timestamp not stamped")
	}

	user, _ := store.Get(1)
	if user.Balance != 100 {
		t.Errorf("balance = %d, want 100 (request then decline is a round trip)", user.Balance)
	}
}

func TestApproveIsTerminal(t *testing.T) {
	workflow, store := testWorkflow(t)
	fundedUser(t, store, 1)

	req, err := workflow.Request(1, 60)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	approved, err := workflow.Approve(req.ID, "paid by hand")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != models.WithdrawStatusApproved {
		t.Errorf("status = %s, want approved", approved.Status)
	}
	if approved.Reference == "" {
		t.Error("approved request has no payout reference")
	}
	if approved.User.TelegramID != 1 {
		t.Errorf("user not preloaded: %+v", approved.User)
	}

	user, _ := store.Get(1)
	if user.Balance != 40 {
		t.Errorf("balance = %d, want 40 (approval does not debit again)", user.Balance)
	}

	if _, err := workflow.Approve(req.ID, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("re-Approve = %v, want ErrNotFound", err)
	}
	if _, err := workflow.Decline(req.ID, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Decline after approve = %v, want ErrNotFound", err)
	}
}

func TestDeclineIsTerminal(t *testing.T) {
	workflow, store := testWorkflow(t)
	fundedUser(t, store, 1)

	req, err := workflow.Request(1, 60)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := workflow.Decline(req.ID, "no"); err != nil {
		t.Fatalf("Decline: %v", err)
	}

	if _, err := workflow.Decline(req.ID, "again"); !errors.Is(err, ErrNotFound) {
		t.Errorf("re-Decline = %v, want ErrNotFound", err)
	}

	user, _ := store.Get(1)
	if user.Balance != 100 {
		t.Errorf("balance = %d, want 100 (refunded exactly once)", user.Balance)
	}
}

func TestApproveUnknownID(t *testing.T) {
	workflow, _ := testWorkflow(t)
	if _, err := workflow.Approve(12345, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Approve(12345) = %v, want ErrNotFound", err)
	}
}

func TestListPendingOldestFirst(t *testing.T) {
	workflow, store := testWorkflow(t)
	fundedUser(t, store, 1)
	fundedUser(t, store, 2)

	first, err := workflow.Request(1, 50)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	second, err := workflow.Request(2, 60)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	pending, err := workflow.ListPending()
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending count = %d, want 2", len(pending))
	}
	if pending[0].ID != first.ID || pending[1].ID != second.ID {
		t.Errorf("order = [%d %d], want [%d %d]", pending[0].ID, pending[1].ID, first.ID, second.ID)
	}

	count, err := workflow.PendingCount()
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if count != 2 {
		t.Errorf("PendingCount = %d, want 2", count)
	}
}

// A leave-channel reset between request and approval must not produce a
// negative balance: the amount was reserved at request time, so approval
// is a pure status flip.
func TestResetOnLeaveThenApprove(t *testing.T) {
	workflow, store := testWorkflow(t)
	fundedUser(t, store, 1)

	req, err := workflow.Request(1, 60)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := store.ResetOnLeave(1); err != nil {
		t.Fatalf("ResetOnLeave: %v", err)
	}

	if _, err := workflow.Approve(req.ID, ""); err != nil {
		t.Fatalf("Approve after reset: %v", err)
	}

	user, _ := store.Get(1)
	if user.Balance != 0 {
		t.Errorf("balance = %d, want 0", user.Balance)
	}
	if user.Balance < 0 {
		t.Errorf("balance went negative: %d", user.Balance)
	}
}
