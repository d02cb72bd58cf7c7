package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"vbank/auth"
	"vbank/consent"
	"vbank/ledger"
	"vbank/models"
)

// ListCards returns the owner's cards. Full card numbers are shown to the
// owner and staff only; institutions get masked numbers.
func (s *Server) ListCards(w http.ResponseWriter, r *http.Request) {
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
	decision := s.Mediator.AccountAccess(claims, owner, requestedConsentID(r), models.PermReadCards)
	if !decision.Allowed() {
		s.denyAccess(w, decision.Err, models.PermReadCards)
		return
	}
	cards, err := s.Ledger.ListCards(owner.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	full := decision.Kind != consent.DecideInstitution
	s.writeDataMeta(w, r, http.StatusOK, newCardViews(cards, full), consentMeta(decision))
}

// CreateCard issues a new card over one of the owner's accounts.
func (s *Server) CreateCard(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	var req struct {
		AccountID    string          `json:"account_id"`
		CardType     string          `json:"card_type"`
		CardName     string          `json:"card_name"`
		HolderName   string          `json:"holder_name"`
		DailyLimit   decimal.Decimal `json:"daily_limit"`
		MonthlyLimit decimal.Decimal `json:"monthly_limit"`
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
	owner, err := s.ownerFromRequest(r, claims)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	decision := s.Mediator.AccountAccess(claims, owner, requestedConsentID(r), models.PermManageCards)
	if !decision.Allowed() {
		s.denyAccess(w, decision.Err, models.PermManageCards)
		return
	}
	if req.HolderName == "" {
		req.HolderName = owner.FullName
	}
	card, err := s.Ledger.IssueCard(s.BankBIN, ledger.IssueCardParams{
		AccountID:    accountID,
		ClientID:     owner.ID,
		CardType:     req.CardType,
		CardName:     req.CardName,
		HolderName:   req.HolderName,
		DailyLimit:   req.DailyLimit,
		MonthlyLimit: req.MonthlyLimit,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusCreated, newCardView(*card, decision.Kind != consent.DecideInstitution))
}

// GetCard returns one card's detail.
func (s *Server) GetCard(w http.ResponseWriter, r *http.Request) {
	card, decision, ok := s.cardAccess(w, r, models.PermReadCards)
	if !ok {
		return
	}
	full := decision.Kind != consent.DecideInstitution
	s.writeDataMeta(w, r, http.StatusOK, newCardView(*card, full), consentMeta(decision))
}

// UpdateCardStatus moves a card between active and blocked.
func (s *Server) UpdateCardStatus(w http.ResponseWriter, r *http.Request) {
	card, decision, ok := s.cardAccess(w, r, models.PermManageCards)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil || req.Status == "" {
		s.writeValidationError(w, "status is required")
		return
	}
	updated, err := s.Ledger.UpdateCardStatus(card.CardID, req.Status)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusOK, newCardView(*updated, decision.Kind != consent.DecideInstitution))
}

// UpdateCardLimits replaces the card's spending limits.
func (s *Server) UpdateCardLimits(w http.ResponseWriter, r *http.Request) {
	card, decision, ok := s.cardAccess(w, r, models.PermManageCards)
	if !ok {
		return
	}
	var req struct {
		DailyLimit   decimal.Decimal `json:"daily_limit"`
		MonthlyLimit decimal.Decimal `json:"monthly_limit"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeValidationError(w, "invalid request body")
		return
	}
	updated, err := s.Ledger.UpdateCardLimits(card.CardID, req.DailyLimit, req.MonthlyLimit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusOK, newCardView(*updated, decision.Kind != consent.DecideInstitution))
}

func (s *Server) cardAccess(w http.ResponseWriter, r *http.Request, permission string) (*models.Card, consent.Decision, bool) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return nil, consent.Decision{}, false
	}
	card, err := s.Ledger.GetCard(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return nil, consent.Decision{}, false
	}
	owner, err := s.Ledger.GetClient(card.ClientID)
	if err != nil {
		s.writeDomainError(w, err)
		return nil, consent.Decision{}, false
	}
	decision := s.Mediator.AccountAccess(claims, owner, requestedConsentID(r), permission)
	if !decision.Allowed() {
		s.denyAccess(w, decision.Err, permission)
		return nil, consent.Decision{}, false
	}
	return card, decision, true
}
