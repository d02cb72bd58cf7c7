package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"vbank/auth"
	"vbank/consent"
	"vbank/ledger"
	"vbank/models"
)

// institutionName resolves the display name registered for an institution,
// falling back to the bare client id.
func (s *Server) institutionName(clientID string) string {
	var inst models.Institution
	if err := s.DB.First(&inst, "client_id = ?", clientID).Error; err == nil && inst.Name != "" {
		return inst.Name
	}
	return clientID
}

// mayTouchConsent reports whether the authenticated subject is a party to the
// consent: the granting client, the grantee institution, or staff.
func (s *Server) mayTouchConsent(claims *auth.Claims, grantorID uint, grantedTo string) bool {
	switch claims.Type {
	case auth.TypeStaff:
		return true
	case auth.TypeInstitution:
		return claims.Subject == grantedTo
	case auth.TypeClient:
		actor, err := s.Mediator.ResolveClient(claims.Subject)
		return err == nil && actor.ID == grantorID
	default:
		return false
	}
}

// RequestAccountConsent records an institution's request for account access.
func (s *Server) RequestAccountConsent(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	var req struct {
		ClientID    string   `json:"client_id"`
		Permissions []string `json:"permissions"`
		Reason      string   `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil || req.ClientID == "" {
		s.writeValidationError(w, "client_id is required")
		return
	}
	owner, err := s.Ledger.GetClientByPersonID(req.ClientID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	request, granted, err := s.Registry.RequestAccountAccess(owner.ID, claims.Subject, s.institutionName(claims.Subject), req.Permissions, req.Reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	payload := map[string]any{
		"request_id": request.RequestID,
		"status":     request.Status,
	}
	if granted != nil {
		payload["consent"] = newAccountConsentView(granted)
	}
	s.writeData(w, r, http.StatusCreated, payload)
}

// SignAccountConsent lets the granting client approve or reject a request.
func (s *Server) SignAccountConsent(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	actor, err := s.Mediator.ResolveClient(claims.Subject)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	var req struct {
		Approve bool `json:"approve"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeValidationError(w, "invalid request body")
		return
	}
	granted, err := s.Registry.SignAccountRequest(chi.URLParam(r, "requestID"), actor.ID, req.Approve)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if granted == nil {
		s.writeData(w, r, http.StatusOK, map[string]any{"status": models.ConsentRejected})
		return
	}
	s.writeData(w, r, http.StatusOK, newAccountConsentView(granted))
}

// GetAccountConsent returns one account consent.
func (s *Server) GetAccountConsent(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	c, err := s.Registry.GetAccountConsent(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !s.mayTouchConsent(claims, c.ClientID, c.GrantedTo) {
		s.writeDomainError(w, consent.ErrForbidden)
		return
	}
	s.writeData(w, r, http.StatusOK, newAccountConsentView(c))
}

// RevokeAccountConsent revokes an authorized account consent.
func (s *Server) RevokeAccountConsent(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	c, err := s.Registry.GetAccountConsent(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !s.mayTouchConsent(claims, c.ClientID, c.GrantedTo) {
		s.writeDomainError(w, consent.ErrForbidden)
		return
	}
	revoked, err := s.Registry.RevokeAccountConsent(c.ConsentID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusOK, newAccountConsentView(revoked))
}

// RequestPaymentConsent records an institution's request to execute one
// exact payment.
func (s *Server) RequestPaymentConsent(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	var req struct {
		ClientID        string          `json:"client_id"`
		Amount          decimal.Decimal `json:"amount"`
		Currency        string          `json:"currency"`
		DebtorAccount   string          `json:"debtor_account"`
		CreditorAccount string          `json:"creditor_account"`
		CreditorName    string          `json:"creditor_name"`
		Reference       string          `json:"reference"`
		Reason          string          `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil || req.ClientID == "" {
		s.writeValidationError(w, "client_id is required")
		return
	}
	if req.Currency == "" {
		req.Currency = "RUB"
	}
	owner, err := s.Ledger.GetClientByPersonID(req.ClientID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	terms := consent.PaymentTerms{
		Amount:          req.Amount,
		Currency:        req.Currency,
		DebtorAccount:   req.DebtorAccount,
		CreditorAccount: req.CreditorAccount,
		CreditorName:    req.CreditorName,
		Reference:       req.Reference,
	}
	request, granted, err := s.Registry.RequestPayment(owner.ID, claims.Subject, s.institutionName(claims.Subject), terms, req.Reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	payload := map[string]any{
		"request_id": request.RequestID,
		"status":     request.Status,
	}
	if granted != nil {
		payload["consent"] = newPaymentConsentView(granted)
	}
	s.writeData(w, r, http.StatusCreated, payload)
}

// SignPaymentConsent lets the granting client approve or reject a request.
func (s *Server) SignPaymentConsent(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	actor, err := s.Mediator.ResolveClient(claims.Subject)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	var req struct {
		Approve bool `json:"approve"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeValidationError(w, "invalid request body")
		return
	}
	granted, err := s.Registry.SignPaymentRequest(chi.URLParam(r, "requestID"), actor.ID, req.Approve)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if granted == nil {
		s.writeData(w, r, http.StatusOK, map[string]any{"status": models.ConsentRejected})
		return
	}
	s.writeData(w, r, http.StatusOK, newPaymentConsentView(granted))
}

// GetPaymentConsent returns one payment consent.
func (s *Server) GetPaymentConsent(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	c, err := s.Registry.GetPaymentConsent(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !s.mayTouchConsent(claims, c.ClientID, c.GrantedTo) {
		s.writeDomainError(w, consent.ErrForbidden)
		return
	}
	s.writeData(w, r, http.StatusOK, newPaymentConsentView(c))
}

// RevokePaymentConsent revokes an authorized payment consent.
func (s *Server) RevokePaymentConsent(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	c, err := s.Registry.GetPaymentConsent(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !s.mayTouchConsent(claims, c.ClientID, c.GrantedTo) {
		s.writeDomainError(w, consent.ErrForbidden)
		return
	}
	revoked, err := s.Registry.RevokePaymentConsent(c.ConsentID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusOK, newPaymentConsentView(revoked))
}

// RequestProductConsent records an institution's request for agreement
// management capabilities.
func (s *Server) RequestProductConsent(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	var req struct {
		ClientID            string          `json:"client_id"`
		ReadAgreements      bool            `json:"read_agreements"`
		OpenAgreements      bool            `json:"open_agreements"`
		CloseAgreements     bool            `json:"close_agreements"`
		AllowedProductTypes []string        `json:"allowed_product_types"`
		MaxAmount           decimal.Decimal `json:"max_amount"`
		ValidUntil          *time.Time      `json:"valid_until"`
		Reason              string          `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil || req.ClientID == "" {
		s.writeValidationError(w, "client_id is required")
		return
	}
	owner, err := s.Ledger.GetClientByPersonID(req.ClientID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	terms := consent.ProductTerms{
		ReadAgreements:      req.ReadAgreements,
		OpenAgreements:      req.OpenAgreements,
		CloseAgreements:     req.CloseAgreements,
		AllowedProductTypes: req.AllowedProductTypes,
		MaxAmount:           req.MaxAmount,
		ValidUntil:          req.ValidUntil,
	}
	request, granted, err := s.Registry.RequestProductAccess(owner.ID, claims.Subject, s.institutionName(claims.Subject), terms, req.Reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	payload := map[string]any{
		"request_id": request.RequestID,
		"status":     request.Status,
	}
	if granted != nil {
		payload["consent"] = newProductConsentView(granted)
	}
	s.writeData(w, r, http.StatusCreated, payload)
}

// SignProductConsent lets the granting client approve or reject a request.
func (s *Server) SignProductConsent(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	actor, err := s.Mediator.ResolveClient(claims.Subject)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	var req struct {
		Approve bool `json:"approve"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeValidationError(w, "invalid request body")
		return
	}
	granted, err := s.Registry.SignProductRequest(chi.URLParam(r, "requestID"), actor.ID, req.Approve)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if granted == nil {
		s.writeData(w, r, http.StatusOK, map[string]any{"status": models.ConsentRejected})
		return
	}
	s.writeData(w, r, http.StatusOK, newProductConsentView(granted))
}

// GetProductConsent returns one product-agreement consent.
func (s *Server) GetProductConsent(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	c, err := s.Registry.GetProductConsent(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !s.mayTouchConsent(claims, c.ClientID, c.GrantedTo) {
		s.writeDomainError(w, consent.ErrForbidden)
		return
	}
	s.writeData(w, r, http.StatusOK, newProductConsentView(c))
}

// RevokeProductConsent revokes an authorized product-agreement consent.
func (s *Server) RevokeProductConsent(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	c, err := s.Registry.GetProductConsent(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !s.mayTouchConsent(claims, c.ClientID, c.GrantedTo) {
		s.writeDomainError(w, consent.ErrForbidden)
		return
	}
	revoked, err := s.Registry.RevokeProductConsent(c.ConsentID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusOK, newProductConsentView(revoked))
}

// CreateVRPConsent sets up a VRP mandate over one of the owner's accounts.
func (s *Server) CreateVRPConsent(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	var req struct {
		ClientID            string          `json:"client_id"`
		AccountID           string          `json:"account_id"`
		MaxIndividualAmount decimal.Decimal `json:"max_individual_amount"`
		MaxAmountPeriod     decimal.Decimal `json:"max_amount_period"`
		PeriodType          string          `json:"period_type"`
		MaxPaymentsCount    int             `json:"max_payments_count"`
		ValidFrom           time.Time       `json:"valid_from"`
		ValidTo             time.Time       `json:"valid_to"`
	}
	if err := decodeBody(r, &req); err != nil || req.AccountID == "" {
		s.writeValidationError(w, "account_id is required")
		return
	}
	accountID, err := ledger.ParseAccountID(req.AccountID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	account, err := s.Ledger.GetAccount(accountID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	owner, err := s.Ledger.GetClient(account.ClientID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if claims.Type == auth.TypeClient {
		actor, err := s.Mediator.ResolveClient(claims.Subject)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		if actor.ID != owner.ID {
			s.writeDomainError(w, consent.ErrForbidden)
			return
		}
	}
	mandate, err := s.Registry.CreateVRPConsent(owner.ID, claims.Subject, consent.VRPTerms{
		AccountID:           account.ID,
		MaxIndividualAmount: req.MaxIndividualAmount,
		MaxAmountPeriod:     req.MaxAmountPeriod,
		PeriodType:          req.PeriodType,
		MaxPaymentsCount:    req.MaxPaymentsCount,
		ValidFrom:           req.ValidFrom,
		ValidTo:             req.ValidTo,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusCreated, newVRPConsentView(mandate))
}

// GetVRPConsent returns one VRP mandate.
func (s *Server) GetVRPConsent(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	c, err := s.Registry.GetVRPConsent(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !s.mayTouchConsent(claims, c.ClientID, c.GrantedTo) {
		s.writeDomainError(w, consent.ErrForbidden)
		return
	}
	s.writeData(w, r, http.StatusOK, newVRPConsentView(c))
}

// RevokeVRPConsent revokes an authorized mandate.
func (s *Server) RevokeVRPConsent(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	c, err := s.Registry.GetVRPConsent(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !s.mayTouchConsent(claims, c.ClientID, c.GrantedTo) {
		s.writeDomainError(w, consent.ErrForbidden)
		return
	}
	revoked, err := s.Registry.RevokeVRPConsent(c.ConsentID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusOK, newVRPConsentView(revoked))
}

// CreateOfferConsent records a personalised-offer consent for a lead.
func (s *Server) CreateOfferConsent(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	var req struct {
		LeadID        string   `json:"lead_id"`
		Permissions   []string `json:"permissions"`
		ExpiresInDays int      `json:"expires_in_days"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeValidationError(w, "invalid request body")
		return
	}
	terms := consent.OfferTerms{
		LeadID:      req.LeadID,
		Permissions: req.Permissions,
	}
	if req.ExpiresInDays > 0 {
		terms.ExpiresIn = time.Duration(req.ExpiresInDays) * 24 * time.Hour
	}
	created, err := s.Registry.CreateOfferConsent(claims.Subject, terms)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusCreated, newOfferConsentView(created))
}

// GetOfferConsent returns one offer consent.
func (s *Server) GetOfferConsent(w http.ResponseWriter, r *http.Request) {
	c, err := s.Registry.GetOfferConsent(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusOK, newOfferConsentView(c))
}

// RevokeOfferConsent revokes an authorized offer consent.
func (s *Server) RevokeOfferConsent(w http.ResponseWriter, r *http.Request) {
	revoked, err := s.Registry.RevokeOfferConsent(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusOK, newOfferConsentView(revoked))
}

// ListNotifications returns the client's notifications, newest first.
func (s *Server) ListNotifications(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	actor, err := s.Mediator.ResolveClient(claims.Subject)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	var items []models.Notification
	if err := s.DB.Where("client_id = ?", actor.ID).Order("id DESC").Find(&items).Error; err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusOK, newNotificationViews(items))
}

// MarkNotificationRead flips one of the client's notifications to read.
func (s *Server) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	actor, err := s.Mediator.ResolveClient(claims.Subject)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		s.writeValidationError(w, "invalid notification id")
		return
	}
	result := s.DB.Model(&models.Notification{}).
		Where("id = ? AND client_id = ?", id, actor.ID).
		Update("status", "read")
	if result.Error != nil {
		s.writeDomainError(w, result.Error)
		return
	}
	if result.RowsAffected == 0 {
		s.writeError(w, http.StatusNotFound, "NOT_FOUND", "notification not found", "")
		return
	}
	s.writeData(w, r, http.StatusOK, map[string]string{"status": "read"})
}
