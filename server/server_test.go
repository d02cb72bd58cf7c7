package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vbank/auth"
	"vbank/consent"
	"vbank/ledger"
	"vbank/models"
	"vbank/payment"
	"vbank/product"
)

const (
	testBankCode    = "VBNK"
	testStaffSecret = "staff-secret"
)

type testEnv struct {
	srv  *Server
	db   *gorm.DB
	book *ledger.Ledger
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	capital := models.BankCapital{
		BankCode:       testBankCode,
		Capital:        decimal.NewFromInt(1000000),
		InitialCapital: decimal.NewFromInt(1000000),
		UpdatedAt:      time.Now(),
	}
	if err := db.Create(&capital).Error; err != nil {
		t.Fatalf("seed capital: %v", err)
	}

	tokens, err := auth.NewService("test-secret", testBankCode, time.Hour)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	registry := consent.NewRegistry(db, consent.Options{
		AutoApproveConsents:        true,
		AutoApprovePaymentConsents: true,
		AutoApproveProductConsents: true,
	})
	book := ledger.New(db, testBankCode)
	engine := payment.NewEngine(db, book, registry, testBankCode, nil)
	manager := product.NewManager(db, book, registry)

	srv := New(Config{
		DB:          db,
		Auth:        tokens,
		Registry:    registry,
		Ledger:      book,
		Payments:    engine,
		Products:    manager,
		BankCode:    testBankCode,
		BankName:    "Test Bank",
		BankBIN:     "427610",
		StaffSecret: testStaffSecret,
	})
	return &testEnv{srv: srv, db: db, book: book}
}

func (e *testEnv) createClient(t *testing.T, personID string, balance int64) (*models.Client, *models.Account) {
	t.Helper()
	client := models.Client{
		PersonID:  personID,
		FullName:  "Client " + personID,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := e.db.Create(&client).Error; err != nil {
		t.Fatalf("create client: %v", err)
	}
	account, err := e.book.CreateAccount(client.ID, models.AccountTypeChecking, "RUB", decimal.NewFromInt(balance))
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return &client, account
}

func (e *testEnv) createInstitution(t *testing.T, clientID string) *models.Institution {
	t.Helper()
	inst := models.Institution{
		ClientID:     clientID,
		ClientSecret: "secret-" + clientID,
		Name:         "Institution " + clientID,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	if err := e.db.Create(&inst).Error; err != nil {
		t.Fatalf("create institution: %v", err)
	}
	return &inst
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, personID string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{"person_id": personID}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", personID, rec.Code, rec.Body.String())
	}
	var resp struct {
		Data tokenResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.Data.AccessToken
}

func (e *testEnv) bankToken(t *testing.T, inst *models.Institution) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/bank-token", "", map[string]string{
		"client_id":     inst.ClientID,
		"client_secret": inst.ClientSecret,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("bank token: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data tokenResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	return resp.Data.AccessToken
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data any) responseMeta {
	t.Helper()
	var resp struct {
		Data json.RawMessage `json:"data"`
		Meta responseMeta    `json:"meta"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, rec.Body.String())
	}
	if data != nil {
		if err := json.Unmarshal(resp.Data, data); err != nil {
			t.Fatalf("decode data: %v (data %s)", err, string(resp.Data))
		}
	}
	return resp.Meta
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (body %s)", err, rec.Body.String())
	}
	return body
}

func TestHealthz(t *testing.T) {
	e := setupTestServer(t)
	rec := e.do(t, http.MethodGet, "/healthz", "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	e := setupTestServer(t)
	rec := e.do(t, http.MethodGet, "/accounts", "", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
}

func TestClientListsOwnAccounts(t *testing.T) {
	e := setupTestServer(t)
	e.createClient(t, "demo-1", 5000)
	token := e.login(t, "demo-1")

	rec := e.do(t, http.MethodGet, "/accounts", token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	var accounts []accountView
	decodeEnvelope(t, rec, &accounts)
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}
	if !accounts[0].Balance.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("balance = %s", accounts[0].Balance)
	}
	if !strings.HasPrefix(accounts[0].AccountID, "acc-") {
		t.Fatalf("external id = %q", accounts[0].AccountID)
	}
}

func TestInstitutionAccountAccessFlow(t *testing.T) {
	e := setupTestServer(t)
	_, account := e.createClient(t, "demo-1", 5000)
	inst := e.createInstitution(t, "inst-a")
	token := e.bankToken(t, inst)

	instHeaders := map[string]string{"X-Requesting-Institution": inst.ClientID}

	// A missing or mismatched X-Requesting-Institution header is refused
	// before mediation.
	rec := e.do(t, http.MethodGet, "/accounts?client_id=demo-1", token, nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing header: status %d, want 403", rec.Code)
	}
	if body := decodeError(t, rec); body.Error != "FORBIDDEN" {
		t.Fatalf("missing header error code = %q", body.Error)
	}
	rec = e.do(t, http.MethodGet, "/accounts?client_id=demo-1", token, nil,
		map[string]string{"X-Requesting-Institution": "someone-else"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("mismatched header: status %d, want 403", rec.Code)
	}

	// Without a consent the read is refused with a hint naming the
	// permission to request.
	rec = e.do(t, http.MethodGet, "/accounts?client_id=demo-1", token, nil, instHeaders)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status %d, want 403", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Error != "CONSENT_REQUIRED" {
		t.Fatalf("error code = %q", body.Error)
	}
	if !strings.Contains(body.Hint, models.PermReadAccountsDetail) {
		t.Fatalf("hint %q does not name the missing permission", body.Hint)
	}

	rec = e.do(t, http.MethodPost, "/account-consents/request", token, map[string]any{
		"client_id":   "demo-1",
		"permissions": []string{models.PermReadAccountsDetail, models.PermReadBalances, models.PermReadTransactionsDetail},
		"reason":      "account aggregation",
	}, instHeaders)
	if rec.Code != http.StatusCreated {
		t.Fatalf("consent request: status %d body %s", rec.Code, rec.Body.String())
	}

	// Now the read succeeds and echoes the consent id and access stamp.
	rec = e.do(t, http.MethodGet, "/accounts?client_id=demo-1", token, nil, instHeaders)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	var accounts []accountView
	meta := decodeEnvelope(t, rec, &accounts)
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}
	if meta.ConsentID == "" {
		t.Fatal("meta missing consentId")
	}
	if meta.LastAccessTime == nil {
		t.Fatal("meta missing lastAccessTime")
	}

	// The granted permissions do not cover writes.
	rec = e.do(t, http.MethodPost, "/accounts?client_id=demo-1", token, map[string]any{
		"account_type": models.AccountTypeChecking,
	}, instHeaders)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("uncovered write: status %d, want 403", rec.Code)
	}
	if body := decodeError(t, rec); body.Error != "INVALID_SCOPE" {
		t.Fatalf("error code = %q, want INVALID_SCOPE", body.Error)
	}

	// Path-addressed reads are gated by the same header, not only the
	// client_id form.
	path := "/accounts/" + ledger.ExternalAccountID(account.ID)
	rec = e.do(t, http.MethodGet, path, token, nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("path read without header: status %d, want 403", rec.Code)
	}
	if body := decodeError(t, rec); body.Error != "FORBIDDEN" {
		t.Fatalf("path read error code = %q", body.Error)
	}
	rec = e.do(t, http.MethodGet, path, token, nil, instHeaders)
	if rec.Code != http.StatusOK {
		t.Fatalf("path read with header: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestInstitutionConsentSelectionOverHTTP(t *testing.T) {
	e := setupTestServer(t)
	e.createClient(t, "demo-1", 5000)
	inst := e.createInstitution(t, "inst-a")
	token := e.bankToken(t, inst)
	instHeaders := map[string]string{"X-Requesting-Institution": inst.ClientID}

	consentBody := map[string]any{
		"client_id":   "demo-1",
		"permissions": []string{models.PermReadAccountsDetail, models.PermReadBalances},
	}
	request := func() string {
		rec := e.do(t, http.MethodPost, "/account-consents/request", token, consentBody, instHeaders)
		if rec.Code != http.StatusCreated {
			t.Fatalf("consent request: status %d body %s", rec.Code, rec.Body.String())
		}
		var created struct {
			Consent accountConsentView `json:"consent"`
		}
		decodeEnvelope(t, rec, &created)
		if created.Consent.ConsentID == "" {
			t.Fatalf("no consent granted: %s", rec.Body.String())
		}
		return created.Consent.ConsentID
	}
	older := request()
	newer := request()

	rec := e.do(t, http.MethodDelete, "/account-consents/"+newer, token, nil, instHeaders)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke newer: status %d body %s", rec.Code, rec.Body.String())
	}

	// The revoked consent must not shadow the older authorized one.
	rec = e.do(t, http.MethodGet, "/accounts?client_id=demo-1", token, nil, instHeaders)
	if rec.Code != http.StatusOK {
		t.Fatalf("read with a live older consent: status %d body %s", rec.Code, rec.Body.String())
	}
	meta := decodeEnvelope(t, rec, nil)
	if meta.ConsentID != older {
		t.Fatalf("matched consent %s, want the authorized %s", meta.ConsentID, older)
	}

	// Pinning the revoked consent with X-Consent-Id is refused even though a
	// live one exists.
	pinRevoked := map[string]string{
		"X-Requesting-Institution": inst.ClientID,
		"X-Consent-Id":             newer,
	}
	rec = e.do(t, http.MethodGet, "/accounts?client_id=demo-1", token, nil, pinRevoked)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("pinned revoked consent: status %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error != "INVALID_CONSENT" {
		t.Fatalf("error code = %q", body.Error)
	}

	// Pinning the live consent matches exactly that consent.
	pinLive := map[string]string{
		"X-Requesting-Institution": inst.ClientID,
		"X-Consent-Id":             older,
	}
	rec = e.do(t, http.MethodGet, "/accounts?client_id=demo-1", token, nil, pinLive)
	if rec.Code != http.StatusOK {
		t.Fatalf("pinned live consent: status %d body %s", rec.Code, rec.Body.String())
	}
	meta = decodeEnvelope(t, rec, nil)
	if meta.ConsentID != older {
		t.Fatalf("pinned read echoed %s, want %s", meta.ConsentID, older)
	}
}

func TestClientPaymentAndIdempotencyReplay(t *testing.T) {
	e := setupTestServer(t)
	_, source := e.createClient(t, "demo-1", 1000)
	_, dest := e.createClient(t, "demo-2", 0)
	token := e.login(t, "demo-1")

	body := map[string]any{
		"debtor_account":   source.AccountNumber,
		"creditor_account": dest.AccountNumber,
		"amount":           "250.00",
		"currency":         "RUB",
		"description":      "split bill",
	}
	headers := map[string]string{"Idempotency-Key": "idem-1"}

	rec := e.do(t, http.MethodPost, "/payments", token, body, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("payment: status %d body %s", rec.Code, rec.Body.String())
	}
	var first paymentView
	decodeEnvelope(t, rec, &first)
	if first.Status != models.PaymentStatusCompleted {
		t.Fatalf("payment status = %s", first.Status)
	}

	// A retry with the same key replays the stored response without a
	// second debit.
	rec = e.do(t, http.MethodPost, "/payments", token, body, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("replay: status %d", rec.Code)
	}
	var second paymentView
	decodeEnvelope(t, rec, &second)
	if second.PaymentID != first.PaymentID {
		t.Fatalf("replay minted a new payment: %s vs %s", second.PaymentID, first.PaymentID)
	}

	reloaded, err := e.book.GetAccount(source.ID)
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if !reloaded.Balance.Equal(decimal.NewFromInt(750)) {
		t.Fatalf("source balance = %s, want exactly one debit", reloaded.Balance)
	}
}

func TestClientCannotDebitForeignAccount(t *testing.T) {
	e := setupTestServer(t)
	e.createClient(t, "demo-1", 1000)
	_, victim := e.createClient(t, "demo-2", 1000)
	token := e.login(t, "demo-1")

	rec := e.do(t, http.MethodPost, "/payments", token, map[string]any{
		"debtor_account":   victim.AccountNumber,
		"creditor_account": "40817810000000000001",
		"amount":           "100.00",
	}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status %d, want 403", rec.Code)
	}
	if body := decodeError(t, rec); body.Error != "FORBIDDEN" {
		t.Fatalf("error code = %q", body.Error)
	}
}

func TestThirdPartyPaymentSingleShot(t *testing.T) {
	e := setupTestServer(t)
	_, source := e.createClient(t, "demo-1", 2000)
	_, dest := e.createClient(t, "demo-2", 0)
	inst := e.createInstitution(t, "inst-a")
	token := e.bankToken(t, inst)
	instHeaders := map[string]string{"X-Requesting-Institution": inst.ClientID}

	rec := e.do(t, http.MethodPost, "/payment-consents/request", token, map[string]any{
		"client_id":        "demo-1",
		"amount":           "500.00",
		"currency":         "RUB",
		"debtor_account":   source.AccountNumber,
		"creditor_account": dest.AccountNumber,
		"creditor_name":    "Utility Co",
	}, instHeaders)
	if rec.Code != http.StatusCreated {
		t.Fatalf("consent request: status %d body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Consent paymentConsentView `json:"consent"`
	}
	decodeEnvelope(t, rec, &created)
	if created.Consent.ConsentID == "" {
		t.Fatalf("no consent granted: %s", rec.Body.String())
	}

	paymentBody := map[string]any{
		"debtor_account":   source.AccountNumber,
		"creditor_account": dest.AccountNumber,
		"amount":           "500.00",
		"currency":         "RUB",
	}

	// Without the consent header the gate refuses.
	rec = e.do(t, http.MethodPost, "/payments", token, paymentBody, instHeaders)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("no consent header: status %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error != "CONSENT_REQUIRED" {
		t.Fatalf("error code = %q", body.Error)
	}

	headers := map[string]string{
		"X-Requesting-Institution": inst.ClientID,
		"X-Payment-Consent-Id":     created.Consent.ConsentID,
	}
	rec = e.do(t, http.MethodPost, "/payments", token, paymentBody, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("consented payment: status %d body %s", rec.Code, rec.Body.String())
	}

	// The consent is single shot.
	rec = e.do(t, http.MethodPost, "/payments", token, paymentBody, headers)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("replayed consent: status %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error != "INVALID_CONSENT" {
		t.Fatalf("error code = %q", body.Error)
	}

	reloaded, err := e.book.GetAccount(source.ID)
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if !reloaded.Balance.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("source balance = %s, want exactly one debit", reloaded.Balance)
	}
}

func TestTransactionsPagingOverHTTP(t *testing.T) {
	e := setupTestServer(t)
	_, account := e.createClient(t, "demo-1", 5000)
	token := e.login(t, "demo-1")

	path := fmt.Sprintf("/accounts/%s/transactions?limit=0", ledger.ExternalAccountID(account.ID))
	rec := e.do(t, http.MethodGet, path, token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	var items []transactionView
	meta := decodeEnvelope(t, rec, &items)
	if meta.PageSize == nil || *meta.PageSize != ledger.DefaultPageSize {
		t.Fatalf("pageSize meta = %v, want %d", meta.PageSize, ledger.DefaultPageSize)
	}
	if meta.CurrentPage == nil || *meta.CurrentPage != 1 {
		t.Fatalf("currentPage meta = %v", meta.CurrentPage)
	}
	// Only the opening balance entry exists.
	if len(items) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(items))
	}
}

func TestRegisterInstitutionProvisionsSandbox(t *testing.T) {
	e := setupTestServer(t)

	rec := e.do(t, http.MethodPost, "/auth/register-institution", "", map[string]string{"name": "Acme Fintech"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ClientID     string   `json:"client_id"`
		ClientSecret string   `json:"client_secret"`
		TestClients  []string `json:"test_clients"`
	}
	decodeEnvelope(t, rec, &created)
	if len(created.TestClients) != 10 {
		t.Fatalf("expected 10 test clients, got %d", len(created.TestClients))
	}

	// The issued credentials work immediately.
	rec = e.do(t, http.MethodPost, "/auth/bank-token", "", map[string]string{
		"client_id":     created.ClientID,
		"client_secret": created.ClientSecret,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("bank token with issued credentials: status %d", rec.Code)
	}

	// And each test client can log in with a funded account.
	token := e.login(t, created.TestClients[0])
	rec = e.do(t, http.MethodGet, "/accounts", token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("test client accounts: status %d", rec.Code)
	}
	var accounts []accountView
	decodeEnvelope(t, rec, &accounts)
	if len(accounts) != 1 || !accounts[0].Balance.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("test client fixture accounts: %+v", accounts)
	}
}

func TestVRPConsentAndPaymentOverHTTP(t *testing.T) {
	e := setupTestServer(t)
	_, source := e.createClient(t, "demo-1", 50000)
	_, dest := e.createClient(t, "demo-2", 0)
	token := e.login(t, "demo-1")

	rec := e.do(t, http.MethodPost, "/vrp-consents", token, map[string]any{
		"account_id":            ledger.ExternalAccountID(source.ID),
		"max_individual_amount": "1000.00",
		"max_amount_period":     "3000.00",
		"period_type":           models.PeriodMonth,
		"max_payments_count":    10,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create mandate: status %d body %s", rec.Code, rec.Body.String())
	}
	var mandate vrpConsentView
	decodeEnvelope(t, rec, &mandate)
	if mandate.Status != models.ConsentAuthorized {
		t.Fatalf("mandate status = %s", mandate.Status)
	}

	payBody := map[string]any{
		"amount":              "1000.00",
		"destination_account": dest.AccountNumber,
		"description":         "gym membership",
	}
	headers := map[string]string{"X-Consent-Id": mandate.ConsentID}
	for i := 0; i < 3; i++ {
		rec = e.do(t, http.MethodPost, "/domestic-vrp-payments", token, payBody, headers)
		if rec.Code != http.StatusCreated {
			t.Fatalf("vrp payment %d: status %d body %s", i+1, rec.Code, rec.Body.String())
		}
	}

	// The period cap is exhausted.
	rec = e.do(t, http.MethodPost, "/domestic-vrp-payments", token, payBody, headers)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("over period cap: status %d body %s", rec.Code, rec.Body.String())
	}
	if body := decodeError(t, rec); body.Error != "LIMIT_EXCEEDED" {
		t.Fatalf("error code = %q", body.Error)
	}

	reloaded, err := e.book.GetAccount(source.ID)
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if !reloaded.Balance.Equal(decimal.NewFromInt(47000)) {
		t.Fatalf("source balance = %s, want 47000", reloaded.Balance)
	}

	// A missing consent id is refused before touching the mandate.
	rec = e.do(t, http.MethodPost, "/domestic-vrp-payments", token, payBody, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing consent id: status %d", rec.Code)
	}
}

func TestStaffLoginAndAccountRead(t *testing.T) {
	e := setupTestServer(t)
	e.createClient(t, "demo-1", 5000)

	rec := e.do(t, http.MethodPost, "/auth/staff-login", "", map[string]string{"secret": testStaffSecret}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("staff login: status %d", rec.Code)
	}
	var resp struct {
		Data tokenResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Staff read any client without a consent.
	rec = e.do(t, http.MethodGet, "/accounts?client_id=demo-1", resp.Data.AccessToken, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("staff read: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodPost, "/auth/staff-login", "", map[string]string{"secret": "wrong"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: status %d", rec.Code)
	}
}
