package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"vbank/auth"
	"vbank/consent"
	"vbank/payment"
)

// InitiatePayment executes a single payment. Client tokens may only move
// money out of their own accounts; institution tokens pass the consent gate
// with the X-Payment-Consent-Id header before any money moves.
func (s *Server) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	var req struct {
		DebtorAccount   string          `json:"debtor_account"`
		CreditorAccount string          `json:"creditor_account"`
		CreditorBank    string          `json:"creditor_bank"`
		Amount          decimal.Decimal `json:"amount"`
		Currency        string          `json:"currency"`
		Description     string          `json:"description"`
	}
	if err := decodeBody(r, &req); err != nil || req.DebtorAccount == "" || req.CreditorAccount == "" {
		s.writeValidationError(w, "debtor_account and creditor_account are required")
		return
	}

	var thirdParty *payment.ThirdParty
	switch claims.Type {
	case auth.TypeClient:
		actor, err := s.Mediator.ResolveClient(claims.Subject)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		source, err := s.Ledger.GetAccountByNumber(req.DebtorAccount)
		if err != nil {
			s.writeDomainError(w, payment.ErrSourceNotFound)
			return
		}
		if source.ClientID != actor.ID {
			s.writeDomainError(w, consent.ErrForbidden)
			return
		}
	case auth.TypeInstitution:
		thirdParty = &payment.ThirdParty{
			Institution:      claims.Subject,
			PaymentConsentID: r.Header.Get("X-Payment-Consent-Id"),
		}
	}

	instr := payment.Instruction{
		DebtorAccountNumber:   req.DebtorAccount,
		CreditorAccountNumber: req.CreditorAccount,
		CreditorBankCode:      req.CreditorBank,
		Amount:                req.Amount,
		Currency:              req.Currency,
		Description:           req.Description,
	}
	record, err := s.Payments.Initiate(r.Context(), instr, thirdParty)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusCreated, newPaymentView(record))
}

// GetPayment returns one payment's record.
func (s *Server) GetPayment(w http.ResponseWriter, r *http.Request) {
	record, err := s.Payments.GetPayment(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusOK, newPaymentView(record))
}

// ExecuteVRPPayment executes a payment under a VRP mandate. The mandate's
// guards are evaluated under lock inside the debit transaction.
func (s *Server) ExecuteVRPPayment(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	var req struct {
		ConsentID          string          `json:"consent_id"`
		Amount             decimal.Decimal `json:"amount"`
		DestinationAccount string          `json:"destination_account"`
		DestinationBank    string          `json:"destination_bank"`
		Description        string          `json:"description"`
		Recurring          bool            `json:"recurring"`
		Frequency          string          `json:"frequency"`
		NextPaymentDate    *time.Time      `json:"next_payment_date"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeValidationError(w, "invalid request body")
		return
	}
	if req.ConsentID == "" {
		req.ConsentID = r.Header.Get("X-Consent-Id")
	}
	if req.ConsentID == "" {
		s.writeDomainError(w, consent.ErrConsentRequired)
		return
	}

	mandate, err := s.Registry.GetVRPConsent(req.ConsentID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !s.mayTouchConsent(claims, mandate.ClientID, mandate.GrantedTo) {
		s.writeDomainError(w, consent.ErrInvalidConsent)
		return
	}

	record, err := s.Payments.ExecuteVRP(r.Context(), payment.VRPInstruction{
		ConsentID:          mandate.ConsentID,
		Amount:             req.Amount,
		DestinationAccount: req.DestinationAccount,
		DestinationBank:    req.DestinationBank,
		Description:        req.Description,
		Recurring:          req.Recurring,
		Frequency:          req.Frequency,
		NextPaymentDate:    req.NextPaymentDate,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusCreated, newVRPPaymentView(record))
}

// GetVRPPayment returns one VRP payment's record.
func (s *Server) GetVRPPayment(w http.ResponseWriter, r *http.Request) {
	record, err := s.Payments.GetVRPPayment(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusOK, newVRPPaymentView(record))
}
