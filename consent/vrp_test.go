package consent

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"vbank/models"
)

func seedCompletedVRPPayment(t *testing.T, db *gorm.DB, consentID string, amount string, executedAt time.Time) {
	t.Helper()
	payment := models.VRPPayment{
		PaymentID:          newID("vrppay"),
		VRPConsentID:       consentID,
		AccountID:          1,
		Amount:             decimal.RequireFromString(amount),
		Currency:           "RUB",
		DestinationAccount: "40817810000000000099",
		Status:             models.PaymentStatusCompleted,
		CreationDateTime:   executedAt,
		ExecutedAt:         &executedAt,
	}
	if err := db.Create(&payment).Error; err != nil {
		t.Fatalf("seed vrp payment: %v", err)
	}
}

func TestCreateVRPConsentValidation(t *testing.T) {
	db := setupTestDB(t)
	registry := NewRegistry(db, Options{})
	client := createTestClient(t, db, "person-1")

	base := VRPTerms{
		AccountID:           1,
		MaxIndividualAmount: decimal.RequireFromString("5000.00"),
		MaxAmountPeriod:     decimal.RequireFromString("20000.00"),
		PeriodType:          models.PeriodMonth,
		MaxPaymentsCount:    10,
	}

	consent, err := registry.CreateVRPConsent(client.ID, "inst-a", base)
	if err != nil {
		t.Fatalf("create mandate: %v", err)
	}
	if consent.Status != models.ConsentAuthorized {
		t.Fatalf("status = %s, want Authorized", consent.Status)
	}

	bad := base
	bad.PeriodType = "fortnight"
	if _, err := registry.CreateVRPConsent(client.ID, "inst-a", bad); !errors.Is(err, ErrConsentMismatch) {
		t.Fatalf("unknown period: got %v, want ErrConsentMismatch", err)
	}

	bad = base
	bad.MaxPaymentsCount = 0
	if _, err := registry.CreateVRPConsent(client.ID, "inst-a", bad); !errors.Is(err, ErrConsentMismatch) {
		t.Fatalf("zero count cap: got %v, want ErrConsentMismatch", err)
	}

	bad = base
	bad.ValidFrom = time.Now().Add(time.Hour)
	bad.ValidTo = time.Now()
	if _, err := registry.CreateVRPConsent(client.ID, "inst-a", bad); !errors.Is(err, ErrConsentMismatch) {
		t.Fatalf("empty window: got %v, want ErrConsentMismatch", err)
	}
}

func TestAuthorizeVRPDebitGuards(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)
	registry := NewRegistry(db, Options{}).WithNow(func() time.Time { return now })
	client := createTestClient(t, db, "person-1")

	consent, err := registry.CreateVRPConsent(client.ID, "inst-a", VRPTerms{
		AccountID:           1,
		MaxIndividualAmount: decimal.RequireFromString("5000.00"),
		MaxAmountPeriod:     decimal.RequireFromString("20000.00"),
		PeriodType:          models.PeriodMonth,
		MaxPaymentsCount:    10,
		ValidFrom:           now.Add(-time.Hour),
		ValidTo:             now.Add(30 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create mandate: %v", err)
	}

	authorize := func(id, amount string) error {
		return db.Transaction(func(tx *gorm.DB) error {
			_, err := registry.AuthorizeVRPDebit(tx, id, decimal.RequireFromString(amount))
			return err
		})
	}

	// Per-payment cap.
	if err := authorize(consent.ConsentID, "5000.01"); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("over per-payment cap: got %v, want ErrLimitExceeded", err)
	}
	if err := authorize(consent.ConsentID, "5000.00"); err != nil {
		t.Fatalf("at per-payment cap: %v", err)
	}

	// Period cap counts only completed payments inside the current calendar
	// month: 17000 executed this month, another 9000 last month that must
	// not count against the window.
	seedCompletedVRPPayment(t, db, consent.ConsentID, "9000.00", now.Add(-24*time.Hour))
	seedCompletedVRPPayment(t, db, consent.ConsentID, "8000.00", now.Add(-48*time.Hour))
	seedCompletedVRPPayment(t, db, consent.ConsentID, "9000.00", now.AddDate(0, -1, 0))
	if err := authorize(consent.ConsentID, "4000.00"); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("over period cap: got %v, want ErrLimitExceeded", err)
	}
	if err := authorize(consent.ConsentID, "3000.00"); err != nil {
		t.Fatalf("exactly at period cap: %v", err)
	}

	// Lifetime count cap on a separate mandate.
	capped, err := registry.CreateVRPConsent(client.ID, "inst-a", VRPTerms{
		AccountID:           1,
		MaxIndividualAmount: decimal.RequireFromString("5000.00"),
		MaxAmountPeriod:     decimal.RequireFromString("20000.00"),
		PeriodType:          models.PeriodMonth,
		MaxPaymentsCount:    2,
		ValidFrom:           now.Add(-time.Hour),
		ValidTo:             now.Add(30 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create mandate: %v", err)
	}
	seedCompletedVRPPayment(t, db, capped.ConsentID, "100.00", now.Add(-time.Hour))
	if err := authorize(capped.ConsentID, "100.00"); err != nil {
		t.Fatalf("second payment under count cap: %v", err)
	}
	seedCompletedVRPPayment(t, db, capped.ConsentID, "100.00", now.Add(-time.Minute))
	if err := authorize(capped.ConsentID, "100.00"); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("over count cap: got %v, want ErrLimitExceeded", err)
	}
}

func TestAuthorizeVRPDebitWindow(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)
	registry := NewRegistry(db, Options{}).WithNow(func() time.Time { return now })
	client := createTestClient(t, db, "person-1")

	early, err := registry.CreateVRPConsent(client.ID, "inst-a", VRPTerms{
		AccountID:           1,
		MaxIndividualAmount: decimal.RequireFromString("1000.00"),
		MaxAmountPeriod:     decimal.RequireFromString("5000.00"),
		PeriodType:          models.PeriodMonth,
		MaxPaymentsCount:    5,
		ValidFrom:           now.Add(time.Hour),
		ValidTo:             now.Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create mandate: %v", err)
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := registry.AuthorizeVRPDebit(tx, early.ConsentID, decimal.RequireFromString("100.00"))
		return err
	})
	if !errors.Is(err, ErrOutsideWindow) {
		t.Fatalf("before window: got %v, want ErrOutsideWindow", err)
	}

	lapsed, err := registry.CreateVRPConsent(client.ID, "inst-a", VRPTerms{
		AccountID:           1,
		MaxIndividualAmount: decimal.RequireFromString("1000.00"),
		MaxAmountPeriod:     decimal.RequireFromString("5000.00"),
		PeriodType:          models.PeriodMonth,
		MaxPaymentsCount:    5,
		ValidFrom:           now.Add(-48 * time.Hour),
		ValidTo:             now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create mandate: %v", err)
	}
	now = now.Add(time.Hour)
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := registry.AuthorizeVRPDebit(tx, lapsed.ConsentID, decimal.RequireFromString("100.00"))
		return err
	})
	if !errors.Is(err, ErrInvalidConsent) {
		t.Fatalf("at validity end: got %v, want ErrInvalidConsent", err)
	}
	reloaded, err := registry.GetVRPConsent(lapsed.ConsentID)
	if err != nil {
		t.Fatalf("get mandate: %v", err)
	}
	if reloaded.Status != models.ConsentExpired {
		t.Fatalf("status = %s, want Expired", reloaded.Status)
	}
}

func TestRevokeVRPConsentStopsDebits(t *testing.T) {
	db := setupTestDB(t)
	registry := NewRegistry(db, Options{})
	client := createTestClient(t, db, "person-1")

	consent, err := registry.CreateVRPConsent(client.ID, "inst-a", VRPTerms{
		AccountID:           1,
		MaxIndividualAmount: decimal.RequireFromString("1000.00"),
		MaxAmountPeriod:     decimal.RequireFromString("5000.00"),
		PeriodType:          models.PeriodWeek,
		MaxPaymentsCount:    5,
	})
	if err != nil {
		t.Fatalf("create mandate: %v", err)
	}
	if _, err := registry.RevokeVRPConsent(consent.ConsentID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := registry.AuthorizeVRPDebit(tx, consent.ConsentID, decimal.RequireFromString("100.00"))
		return err
	})
	if !errors.Is(err, ErrInvalidConsent) {
		t.Fatalf("debit after revoke: got %v, want ErrInvalidConsent", err)
	}
}
