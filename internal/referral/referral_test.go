package referral

import (
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"upicash-bot/internal/ledger"
	"upicash-bot/internal/models"
	"upicash-bot/internal/settings"
)

func testTracker(t *testing.T) (*Tracker, *ledger.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.Referral{}, &models.Setting{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	ledgerStore := ledger.NewStore(db)
	settingsStore := settings.NewStore(db)
	if err := settingsStore.Set(settings.KeyReferralBonus, 10); err != nil {
		t.Fatalf("set referral bonus: %v", err)
	}
	if err := settingsStore.Set(settings.KeyRefereeBonus, 5); err != nil {
		t.Fatalf("set referee bonus: %v", err)
	}
	return NewTracker(db, ledgerStore, settingsStore), ledgerStore
}

func mustUser(t *testing.T, store *ledger.Store, telegramID int64) *models.User {
	t.Helper()
	user, err := store.GetOrCreate(telegramID, fmt.Sprintf("user%d", telegramID))
	if err != nil {
		t.Fatalf("GetOrCreate(%d): %v", telegramID, err)
	}
	return user
}

func TestRecordFirstReferrerWins(t *testing.T) {
	tracker, store := testTracker(t)
	r1 := mustUser(t, store, 1)
	r2 := mustUser(t, store, 2)
	mustUser(t, store, 3)

	if err := tracker.Record(r1.ReferralCode, 3); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := tracker.Record(r2.ReferralCode, 3); err != nil {
		t.Fatalf("Record with second code: %v", err)
	}

	referee, _ := store.Get(3)
	if referee.ReferrerID == nil || *referee.ReferrerID != r1.ID {
		t.Errorf("referrer = %v, want %d (first wins)", referee.ReferrerID, r1.ID)
	}

	var edges int64
	tracker.DB.Model(&models.Referral{}).Where("referee_id = ?", referee.ID).Count(&edges)
	if edges != 1 {
		t.Errorf("edge count = %d, want 1", edges)
	}
}

func TestRecordIgnoresSelfReferral(t *testing.T) {
	tracker, store := testTracker(t)
	user := mustUser(t, store, 1)

	if err := tracker.Record(user.ReferralCode, 1); err != nil {
		t.Fatalf("Record: %v", err)
	}

	reloaded, _ := store.Get(1)
	if reloaded.ReferrerID != nil {
		t.Errorf("self-referral recorded a referrer")
	}
}

func TestRecordIgnoresUnknownCode(t *testing.T) {
	tracker, store := testTracker(t)
	mustUser(t, store, 1)

	if err := tracker.Record("ref_999999", 1); err != nil {
		t.Fatalf("Record with unknown code: %v", err)
	}

	reloaded, _ := store.Get(1)
	if reloaded.ReferrerID != nil {
		t.Errorf("unknown code recorded a referrer")
	}
}

func TestCreditIfNeededCreditsExactlyOnce(t *testing.T) {
	tracker, store := testTracker(t)
	referrer := mustUser(t, store, 1)
	mustUser(t, store, 2)
	if err := tracker.Record(referrer.ReferralCode, 2); err != nil {
		t.Fatalf("Record: %v", err)
	}

	credited, err := tracker.CreditIfNeeded(2)
	if err != nil {
		t.Fatalf("CreditIfNeeded: %v", err)
	}
	if !credited {
		t.Fatal("first CreditIfNeeded = false, want true")
	}

	credited, err = tracker.CreditIfNeeded(2)
	if err != nil {
		t.Fatalf("CreditIfNeeded again: %v", err)
	}
	if credited {
		t.Error("second CreditIfNeeded = true, want false")
	}

	gotReferrer, _ := store.Get(1)
	gotReferee, _ := store.Get(2)
	if gotReferrer.Balance != 10 {
		t.Errorf("referrer balance = %d, want 10", gotReferrer.Balance)
	}
	if gotReferee.Balance != 5 {
		t.Errorf("referee balance = %d, want 5", gotReferee.Balance)
	}

	var edge models.Referral
	if err := tracker.DB.Where("referee_id = ?", gotReferee.ID).First(&edge).Error; err != nil {
		t.Fatalf("load edge: %v", err)
	}
	if !edge.Credited || edge.CreditedAt == nil {
		t.Errorf("edge not marked credited: %+v", edge)
	}
	if edge.ReferrerBonus != 10 {
		t.Errorf("edge bonus = %d, want 10", edge.ReferrerBonus)
	}
}

func TestCreditIfNeededWithoutEdge(t *testing.T) {
	tracker, store := testTracker(t)
	mustUser(t, store, 1)

	credited, err := tracker.CreditIfNeeded(1)
	if err != nil {
		t.Fatalf("CreditIfNeeded: %v", err)
	}
	if credited {
		t.Error("credited without an edge")
	}
}

func TestStatsFor(t *testing.T) {
	tracker, store := testTracker(t)
	referrer := mustUser(t, store, 1)
	mustUser(t, store, 2)
	mustUser(t, store, 3)

	if err := tracker.Record(referrer.ReferralCode, 2); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := tracker.Record(referrer.ReferralCode, 3); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := tracker.CreditIfNeeded(2); err != nil {
		t.Fatalf("CreditIfNeeded: %v", err)
	}

	stats, err := tracker.StatsFor(referrer.ID)
	if err != nil {
		t.Fatalf("StatsFor: %v", err)
	}
	if stats.Invited != 2 || stats.Credited != 1 || stats.TotalEarned != 10 {
		t.Errorf("stats = %+v, want invited=2 credited=1 earned=10", stats)
	}
}
