package consent

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vbank/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func createTestClient(t *testing.T, db *gorm.DB, personID string) *models.Client {
	t.Helper()
	client := models.Client{
		PersonID:  personID,
		FullName:  "Test Client",
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := db.Create(&client).Error; err != nil {
		t.Fatalf("create client: %v", err)
	}
	return &client
}

func TestAccountConsentAutoApprove(t *testing.T) {
	db := setupTestDB(t)
	registry := NewRegistry(db, Options{AutoApproveConsents: true})
	client := createTestClient(t, db, "person-1")

	req, granted, err := registry.RequestAccountAccess(client.ID, "inst-a", "Bank A", []string{models.PermReadAccountsDetail, models.PermReadBalances}, "aggregation")
	if err != nil {
		t.Fatalf("request access: %v", err)
	}
	if req.Status != models.ConsentAuthorized {
		t.Fatalf("request status = %s, want Authorized", req.Status)
	}
	if granted == nil || granted.Status != models.ConsentAuthorized {
		t.Fatalf("expected an authorized consent, got %+v", granted)
	}

	matched, err := registry.CheckAccountAccess("inst-a", client.ID, "", []string{models.PermReadBalances})
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if matched.ConsentID != granted.ConsentID {
		t.Fatalf("matched %s, want %s", matched.ConsentID, granted.ConsentID)
	}
	if matched.LastAccessedAt == nil {
		t.Fatal("expected last access stamp after a successful check")
	}

	if _, err := registry.CheckAccountAccess("inst-a", client.ID, "", []string{models.PermManageCards}); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("uncovered permission: got %v, want ErrInvalidScope", err)
	}
	if _, err := registry.CheckAccountAccess("inst-b", client.ID, "", []string{models.PermReadBalances}); !errors.Is(err, ErrConsentRequired) {
		t.Fatalf("unknown institution: got %v, want ErrConsentRequired", err)
	}
}

func TestAccountConsentManualSign(t *testing.T) {
	db := setupTestDB(t)
	registry := NewRegistry(db, Options{AutoApproveConsents: false})
	client := createTestClient(t, db, "person-1")
	stranger := createTestClient(t, db, "person-2")

	req, granted, err := registry.RequestAccountAccess(client.ID, "inst-a", "Bank A", []string{models.PermReadAccountsDetail}, "")
	if err != nil {
		t.Fatalf("request access: %v", err)
	}
	if granted != nil {
		t.Fatal("manual mode must not auto-grant")
	}
	if req.Status != models.ConsentAwaitingAuthorization {
		t.Fatalf("request status = %s, want AwaitingAuthorization", req.Status)
	}

	var notes []models.Notification
	if err := db.Where("client_id = ?", client.ID).Find(&notes).Error; err != nil {
		t.Fatalf("load notifications: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notes))
	}

	if _, err := registry.SignAccountRequest(req.RequestID, stranger.ID, true); !errors.Is(err, ErrNotGrantor) {
		t.Fatalf("stranger sign: got %v, want ErrNotGrantor", err)
	}

	consent, err := registry.SignAccountRequest(req.RequestID, client.ID, true)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if consent.Status != models.ConsentAuthorized {
		t.Fatalf("consent status = %s", consent.Status)
	}

	if _, err := registry.SignAccountRequest(req.RequestID, client.ID, false); !errors.Is(err, ErrAlreadyResponded) {
		t.Fatalf("double sign: got %v, want ErrAlreadyResponded", err)
	}
}

func TestAccountConsentRejection(t *testing.T) {
	db := setupTestDB(t)
	registry := NewRegistry(db, Options{AutoApproveConsents: false})
	client := createTestClient(t, db, "person-1")

	req, _, err := registry.RequestAccountAccess(client.ID, "inst-a", "Bank A", []string{models.PermReadAccountsDetail}, "")
	if err != nil {
		t.Fatalf("request access: %v", err)
	}
	if _, err := registry.SignAccountRequest(req.RequestID, client.ID, false); err != nil {
		t.Fatalf("reject: %v", err)
	}

	var reloaded models.AccountConsentRequest
	if err := db.First(&reloaded, "request_id = ?", req.RequestID).Error; err != nil {
		t.Fatalf("reload request: %v", err)
	}
	if reloaded.Status != models.ConsentRejected {
		t.Fatalf("status = %s, want Rejected", reloaded.Status)
	}
	if _, err := registry.CheckAccountAccess("inst-a", client.ID, "", []string{models.PermReadAccountsDetail}); !errors.Is(err, ErrConsentRequired) {
		t.Fatalf("check after reject: got %v, want ErrConsentRequired", err)
	}
}

func TestAccountConsentExpiryBoundary(t *testing.T) {
	db := setupTestDB(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	registry := NewRegistry(db, Options{ConsentTTL: time.Hour, AutoApproveConsents: true}).
		WithNow(func() time.Time { return now })
	client := createTestClient(t, db, "person-1")

	_, granted, err := registry.RequestAccountAccess(client.ID, "inst-a", "Bank A", []string{models.PermReadBalances}, "")
	if err != nil {
		t.Fatalf("request access: %v", err)
	}

	// Strictly before the expiration instant the consent is live.
	now = start.Add(time.Hour - time.Second)
	if _, err := registry.CheckAccountAccess("inst-a", client.ID, "", []string{models.PermReadBalances}); err != nil {
		t.Fatalf("check just before expiry: %v", err)
	}

	// At the instant itself it is gone.
	now = start.Add(time.Hour)
	if _, err := registry.CheckAccountAccess("inst-a", client.ID, "", []string{models.PermReadBalances}); !errors.Is(err, ErrInvalidConsent) {
		t.Fatalf("check at expiry instant: got %v, want ErrInvalidConsent", err)
	}

	reloaded, err := registry.GetAccountConsent(granted.ConsentID)
	if err != nil {
		t.Fatalf("get consent: %v", err)
	}
	if reloaded.Status != models.ConsentExpired {
		t.Fatalf("status = %s, want Expired", reloaded.Status)
	}
}

func TestRevokeIsTerminal(t *testing.T) {
	db := setupTestDB(t)
	registry := NewRegistry(db, Options{AutoApproveConsents: true})
	client := createTestClient(t, db, "person-1")

	_, granted, err := registry.RequestAccountAccess(client.ID, "inst-a", "Bank A", []string{models.PermReadBalances}, "")
	if err != nil {
		t.Fatalf("request access: %v", err)
	}
	if _, err := registry.RevokeAccountConsent(granted.ConsentID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := registry.RevokeAccountConsent(granted.ConsentID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double revoke: got %v, want ErrInvalidTransition", err)
	}
	reloaded, err := registry.GetAccountConsent(granted.ConsentID)
	if err != nil {
		t.Fatalf("get consent: %v", err)
	}
	if reloaded.Status != models.ConsentRevoked {
		t.Fatalf("status = %s, want Revoked", reloaded.Status)
	}
	if _, err := registry.CheckAccountAccess("inst-a", client.ID, "", []string{models.PermReadBalances}); !errors.Is(err, ErrConsentRequired) {
		t.Fatalf("check after revoke: got %v, want ErrConsentRequired", err)
	}
}

func TestCheckSkipsNonAuthorizedConsents(t *testing.T) {
	db := setupTestDB(t)
	registry := NewRegistry(db, Options{AutoApproveConsents: true, AutoApproveProductConsents: true})
	client := createTestClient(t, db, "person-1")

	_, older, err := registry.RequestAccountAccess(client.ID, "inst-a", "Bank A", []string{models.PermReadBalances}, "")
	if err != nil {
		t.Fatalf("request older: %v", err)
	}
	_, newer, err := registry.RequestAccountAccess(client.ID, "inst-a", "Bank A", []string{models.PermReadBalances}, "")
	if err != nil {
		t.Fatalf("request newer: %v", err)
	}
	if _, err := registry.RevokeAccountConsent(newer.ConsentID); err != nil {
		t.Fatalf("revoke newer: %v", err)
	}

	// The revoked consent must not shadow the still-authorized older one.
	matched, err := registry.CheckAccountAccess("inst-a", client.ID, "", []string{models.PermReadBalances})
	if err != nil {
		t.Fatalf("check with a live older consent: %v", err)
	}
	if matched.ConsentID != older.ConsentID {
		t.Fatalf("matched %s, want the authorized %s", matched.ConsentID, older.ConsentID)
	}

	// Product consents select the same way.
	terms := ProductTerms{ReadAgreements: true}
	_, olderProduct, err := registry.RequestProductAccess(client.ID, "inst-a", "Bank A", terms, "")
	if err != nil {
		t.Fatalf("request older product consent: %v", err)
	}
	_, newerProduct, err := registry.RequestProductAccess(client.ID, "inst-a", "Bank A", terms, "")
	if err != nil {
		t.Fatalf("request newer product consent: %v", err)
	}
	if _, err := registry.RevokeProductConsent(newerProduct.ConsentID); err != nil {
		t.Fatalf("revoke newer product consent: %v", err)
	}
	matchedProduct, err := registry.CheckProductAccess("inst-a", client.ID, "", CapabilityRead, "")
	if err != nil {
		t.Fatalf("product check with a live older consent: %v", err)
	}
	if matchedProduct.ConsentID != olderProduct.ConsentID {
		t.Fatalf("matched %s, want the authorized %s", matchedProduct.ConsentID, olderProduct.ConsentID)
	}
}

func TestCheckHonorsPinnedConsent(t *testing.T) {
	db := setupTestDB(t)
	registry := NewRegistry(db, Options{AutoApproveConsents: true})
	client := createTestClient(t, db, "person-1")

	_, live, err := registry.RequestAccountAccess(client.ID, "inst-a", "Bank A", []string{models.PermReadBalances}, "")
	if err != nil {
		t.Fatalf("request live: %v", err)
	}
	_, revoked, err := registry.RequestAccountAccess(client.ID, "inst-a", "Bank A", []string{models.PermReadBalances}, "")
	if err != nil {
		t.Fatalf("request second: %v", err)
	}
	if _, err := registry.RevokeAccountConsent(revoked.ConsentID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	matched, err := registry.CheckAccountAccess("inst-a", client.ID, live.ConsentID, []string{models.PermReadBalances})
	if err != nil {
		t.Fatalf("pinned live consent: %v", err)
	}
	if matched.ConsentID != live.ConsentID {
		t.Fatalf("matched %s, want the pinned %s", matched.ConsentID, live.ConsentID)
	}

	// A pinned revoked consent is refused even though a live one exists.
	if _, err := registry.CheckAccountAccess("inst-a", client.ID, revoked.ConsentID, []string{models.PermReadBalances}); !errors.Is(err, ErrInvalidConsent) {
		t.Fatalf("pinned revoked consent: got %v, want ErrInvalidConsent", err)
	}
	// Another institution cannot ride a consent granted to someone else.
	if _, err := registry.CheckAccountAccess("inst-b", client.ID, live.ConsentID, []string{models.PermReadBalances}); !errors.Is(err, ErrInvalidConsent) {
		t.Fatalf("foreign grantee: got %v, want ErrInvalidConsent", err)
	}
	if _, err := registry.CheckAccountAccess("inst-a", client.ID, "consent-unknown", []string{models.PermReadBalances}); !errors.Is(err, ErrInvalidConsent) {
		t.Fatalf("unknown consent id: got %v, want ErrInvalidConsent", err)
	}
}

func TestConsumePaymentSingleShot(t *testing.T) {
	db := setupTestDB(t)
	registry := NewRegistry(db, Options{AutoApprovePaymentConsents: true})
	client := createTestClient(t, db, "person-1")

	amount := decimal.RequireFromString("500.00")
	terms := PaymentTerms{
		Amount:          amount,
		Currency:        "RUB",
		DebtorAccount:   "40817810000000000001",
		CreditorAccount: "40817810000000000002",
		CreditorName:    "Utility Co",
	}
	_, granted, err := registry.RequestPayment(client.ID, "inst-a", "Bank A", terms, "")
	if err != nil {
		t.Fatalf("request payment: %v", err)
	}

	// Mismatched terms never consume.
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := registry.ConsumePayment(tx, granted.ConsentID, "inst-a", decimal.RequireFromString("400.00"), "RUB", terms.DebtorAccount, terms.CreditorAccount)
		return err
	})
	if !errors.Is(err, ErrConsentMismatch) {
		t.Fatalf("wrong amount: got %v, want ErrConsentMismatch", err)
	}

	// A creditor other than the consented one never consumes.
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := registry.ConsumePayment(tx, granted.ConsentID, "inst-a", amount, "RUB", terms.DebtorAccount, "40817810000000000099")
		return err
	})
	if !errors.Is(err, ErrConsentMismatch) {
		t.Fatalf("wrong creditor: got %v, want ErrConsentMismatch", err)
	}

	// Same for the debtor side.
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := registry.ConsumePayment(tx, granted.ConsentID, "inst-a", amount, "RUB", "40817810000000000098", terms.CreditorAccount)
		return err
	})
	if !errors.Is(err, ErrConsentMismatch) {
		t.Fatalf("wrong debtor: got %v, want ErrConsentMismatch", err)
	}

	// Wrong grantee never consumes.
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := registry.ConsumePayment(tx, granted.ConsentID, "inst-b", amount, "RUB", terms.DebtorAccount, terms.CreditorAccount)
		return err
	})
	if !errors.Is(err, ErrInvalidConsent) {
		t.Fatalf("wrong grantee: got %v, want ErrInvalidConsent", err)
	}

	// Exact match consumes exactly once.
	err = db.Transaction(func(tx *gorm.DB) error {
		consumed, err := registry.ConsumePayment(tx, granted.ConsentID, "inst-a", amount, "RUB", terms.DebtorAccount, terms.CreditorAccount)
		if err != nil {
			return err
		}
		if consumed.Status != models.ConsentConsumed {
			t.Fatalf("status = %s, want Consumed", consumed.Status)
		}
		if consumed.UsedAt == nil {
			t.Fatal("expected UsedAt to be set")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := registry.ConsumePayment(tx, granted.ConsentID, "inst-a", amount, "RUB", terms.DebtorAccount, terms.CreditorAccount)
		return err
	})
	if !errors.Is(err, ErrInvalidConsent) {
		t.Fatalf("second consume: got %v, want ErrInvalidConsent", err)
	}
}

func TestRequestPaymentRequiresBoundAccounts(t *testing.T) {
	db := setupTestDB(t)
	registry := NewRegistry(db, Options{AutoApprovePaymentConsents: true})
	client := createTestClient(t, db, "person-1")

	amount := decimal.RequireFromString("100.00")
	if _, _, err := registry.RequestPayment(client.ID, "inst-a", "Bank A", PaymentTerms{
		Amount:        amount,
		Currency:      "RUB",
		DebtorAccount: "40817810000000000001",
	}, ""); !errors.Is(err, ErrConsentMismatch) {
		t.Fatalf("missing creditor: got %v, want ErrConsentMismatch", err)
	}
	if _, _, err := registry.RequestPayment(client.ID, "inst-a", "Bank A", PaymentTerms{
		Amount:          amount,
		Currency:        "RUB",
		CreditorAccount: "40817810000000000002",
	}, ""); !errors.Is(err, ErrConsentMismatch) {
		t.Fatalf("missing debtor: got %v, want ErrConsentMismatch", err)
	}
}

func TestProductConsentReserveOpening(t *testing.T) {
	db := setupTestDB(t)
	registry := NewRegistry(db, Options{AutoApproveProductConsents: true})
	client := createTestClient(t, db, "person-1")

	terms := ProductTerms{
		OpenAgreements:      true,
		ReadAgreements:      true,
		AllowedProductTypes: []string{models.ProductTypeDeposit},
		MaxAmount:           decimal.RequireFromString("100000.00"),
	}
	_, granted, err := registry.RequestProductAccess(client.ID, "inst-a", "Bank A", terms, "")
	if err != nil {
		t.Fatalf("request product access: %v", err)
	}

	if _, err := registry.CheckProductAccess("inst-a", client.ID, "", CapabilityOpen, models.ProductTypeDeposit); err != nil {
		t.Fatalf("check open deposit: %v", err)
	}
	if _, err := registry.CheckProductAccess("inst-a", client.ID, "", CapabilityOpen, models.ProductTypeLoan); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("loan outside allowed types: got %v, want ErrInvalidScope", err)
	}
	if _, err := registry.CheckProductAccess("inst-a", client.ID, "", CapabilityClose, models.ProductTypeDeposit); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("close not granted: got %v, want ErrInvalidScope", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := registry.ReserveOpening(tx, granted.ID, decimal.RequireFromString("60000.00"))
		return err
	})
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := registry.ReserveOpening(tx, granted.ID, decimal.RequireFromString("50000.00"))
		return err
	})
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("over-cap reserve: got %v, want ErrLimitExceeded", err)
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := registry.ReserveOpening(tx, granted.ID, decimal.RequireFromString("40000.00"))
		return err
	})
	if err != nil {
		t.Fatalf("reserve up to the cap exactly: %v", err)
	}
}

func TestPeriodStart(t *testing.T) {
	// Wednesday 2026-03-11 15:30 UTC.
	now := time.Date(2026, 3, 11, 15, 30, 0, 0, time.UTC)
	cases := []struct {
		period string
		want   time.Time
	}{
		{models.PeriodDay, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)},
		{models.PeriodWeek, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
		{models.PeriodMonth, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{models.PeriodYear, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := PeriodStart(tc.period, now); !got.Equal(tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.period, got, tc.want)
		}
	}

	// Sunday belongs to the week starting the previous Monday.
	sunday := time.Date(2026, 3, 15, 23, 0, 0, 0, time.UTC)
	if got := PeriodStart(models.PeriodWeek, sunday); !got.Equal(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("sunday week start: got %v", got)
	}
}
