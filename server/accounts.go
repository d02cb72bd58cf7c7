package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"vbank/auth"
	"vbank/consent"
	"vbank/ledger"
	"vbank/models"
)

// ListAccounts returns the owner's accounts. Institutions need an authorized
// consent covering ReadAccountsDetail.
func (s *Server) ListAccounts(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	owner, err := s.ownerFromRequest(r, claims)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	decision := s.Mediator.AccountAccess(claims, owner, requestedConsentID(r), models.PermReadAccountsDetail)
	if !decision.Allowed() {
		s.denyAccess(w, decision.Err, models.PermReadAccountsDetail)
		return
	}
	accounts, err := s.Ledger.ListAccounts(owner.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeDataMeta(w, r, http.StatusOK, newAccountViews(accounts), consentMeta(decision))
}

// CreateAccount opens a new account for the owner.
func (s *Server) CreateAccount(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	var req struct {
		AccountType    string          `json:"account_type"`
		Currency       string          `json:"currency"`
		OpeningBalance decimal.Decimal `json:"opening_balance"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeValidationError(w, "invalid request body")
		return
	}
	if req.AccountType == "" {
		req.AccountType = models.AccountTypeChecking
	}
	owner, err := s.ownerFromRequest(r, claims)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	decision := s.Mediator.AccountAccess(claims, owner, requestedConsentID(r), models.PermManageAccounts)
	if !decision.Allowed() {
		s.denyAccess(w, decision.Err, models.PermManageAccounts)
		return
	}
	account, err := s.Ledger.CreateAccount(owner.ID, req.AccountType, req.Currency, req.OpeningBalance)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusCreated, newAccountView(*account))
}

// GetAccount returns one account's detail.
func (s *Server) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, decision, ok := s.accountAccess(w, r, models.PermReadAccountsDetail)
	if !ok {
		return
	}
	s.writeDataMeta(w, r, http.StatusOK, newAccountView(*account), consentMeta(decision))
}

// GetBalances returns the account balance snapshot.
func (s *Server) GetBalances(w http.ResponseWriter, r *http.Request) {
	account, decision, ok := s.accountAccess(w, r, models.PermReadBalances)
	if !ok {
		return
	}
	view := balanceView{
		AccountID: ledger.ExternalAccountID(account.ID),
		Balance:   account.Balance,
		Currency:  account.Currency,
		AsOf:      s.Now(),
	}
	s.writeDataMeta(w, r, http.StatusOK, view, consentMeta(decision))
}

// ListTransactions returns one page of the account's history, newest first.
func (s *Server) ListTransactions(w http.ResponseWriter, r *http.Request) {
	account, decision, ok := s.accountAccess(w, r, models.PermReadTransactionsDetail)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, pageInfo, err := s.Ledger.Transactions(account.ID, page, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writePage(w, r, newTransactionViews(items), pageInfo, consentMeta(decision))
}

// CloseAccount closes the account, transferring or donating its balance.
func (s *Server) CloseAccount(w http.ResponseWriter, r *http.Request) {
	account, _, ok := s.accountAccess(w, r, models.PermManageAccounts)
	if !ok {
		return
	}
	var req struct {
		Action               string `json:"action"`
		DestinationAccountID string `json:"destination_account_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeValidationError(w, "invalid request body")
		return
	}
	var destinationID *uint
	if req.DestinationAccountID != "" {
		id, err := ledger.ParseAccountID(req.DestinationAccountID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		destinationID = &id
	}
	result, err := s.Ledger.Close(account.ID, req.Action, destinationID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	payload := map[string]any{
		"account": newAccountView(*result.Account),
		"action":  result.Action,
		"amount":  result.Amount,
	}
	if result.Destination != nil {
		payload["destination"] = newAccountView(*result.Destination)
	}
	s.writeData(w, r, http.StatusOK, payload)
}

// accountAccess resolves the {id} account, mediates access for the given
// permission, and writes the error response itself on failure.
func (s *Server) accountAccess(w http.ResponseWriter, r *http.Request, permission string) (*models.Account, consent.Decision, bool) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return nil, consent.Decision{}, false
	}
	id, err := ledger.ParseAccountID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return nil, consent.Decision{}, false
	}
	account, err := s.Ledger.GetAccount(id)
	if err != nil {
		s.writeDomainError(w, err)
		return nil, consent.Decision{}, false
	}
	owner, err := s.Ledger.GetClient(account.ClientID)
	if err != nil {
		s.writeDomainError(w, err)
		return nil, consent.Decision{}, false
	}
	decision := s.Mediator.AccountAccess(claims, owner, requestedConsentID(r), permission)
	if !decision.Allowed() {
		s.denyAccess(w, decision.Err, permission)
		return nil, consent.Decision{}, false
	}
	return account, decision, true
}

// consentMeta echoes the consent id and access stamp for institution reads.
func consentMeta(decision consent.Decision) responseMeta {
	meta := responseMeta{}
	if decision.AccountConsent != nil {
		meta.ConsentID = decision.AccountConsent.ConsentID
		meta.LastAccessTime = decision.AccountConsent.LastAccessedAt
	}
	if decision.ProductConsent != nil {
		meta.ConsentID = decision.ProductConsent.ConsentID
		meta.LastAccessTime = decision.ProductConsent.LastAccessedAt
	}
	return meta
}
