package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"vbank/auth"
	"vbank/consent"
	"vbank/ledger"
	"vbank/models"
	"vbank/product"
)

// ListProducts returns the catalog, optionally filtered by product type.
func (s *Server) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.Products.ListProducts(r.URL.Query().Get("type"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	views := make([]productView, 0, len(products))
	for _, p := range products {
		views = append(views, newProductView(p))
	}
	s.writeData(w, r, http.StatusOK, views)
}

// GetProduct returns one catalog entry.
func (s *Server) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.Products.GetProduct(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusOK, newProductView(*p))
}

// ListAgreements returns the owner's product agreements.
func (s *Server) ListAgreements(w http.ResponseWriter, r *http.Request) {
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
	decision := s.Mediator.ProductAccess(claims, owner, requestedConsentID(r), consent.CapabilityRead, "")
	if !decision.Allowed() {
		s.denyAccess(w, decision.Err, "ReadProductAgreements")
		return
	}
	agreements, err := s.Products.ListAgreements(owner.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	views := make([]agreementView, 0, len(agreements))
	for i := range agreements {
		views = append(views, newAgreementView(&agreements[i]))
	}
	s.writeDataMeta(w, r, http.StatusOK, views, consentMeta(decision))
}

// OpenAgreement opens an agreement and its derived account. Institution
// openings are charged against the consent's cumulative cap inside the same
// transaction as the money movement.
func (s *Server) OpenAgreement(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	var req struct {
		ProductID       string          `json:"product_id"`
		Amount          decimal.Decimal `json:"amount"`
		SourceAccountID string          `json:"source_account_id"`
	}
	if err := decodeBody(r, &req); err != nil || req.ProductID == "" {
		s.writeValidationError(w, "product_id is required")
		return
	}
	catalog, err := s.Products.GetProduct(req.ProductID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	owner, err := s.ownerFromRequest(r, claims)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	decision := s.Mediator.ProductAccess(claims, owner, requestedConsentID(r), consent.CapabilityOpen, catalog.ProductType)
	if !decision.Allowed() {
		s.denyAccess(w, decision.Err, "OpenProductAgreements")
		return
	}

	params := product.OpenParams{
		ClientID:  owner.ID,
		ProductID: req.ProductID,
		Amount:    req.Amount,
	}
	if req.SourceAccountID != "" {
		id, err := ledger.ParseAccountID(req.SourceAccountID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		source, err := s.Ledger.GetAccount(id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		if source.ClientID != owner.ID {
			s.writeDomainError(w, ledger.ErrAccountNotFound)
			return
		}
		params.SourceAccountID = &id
	}
	if decision.ProductConsent != nil {
		params.ConsentRowID = decision.ProductConsent.ID
	}

	agreement, derived, err := s.Products.OpenAgreement(params)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	payload := map[string]any{"agreement": newAgreementView(agreement)}
	if derived != nil {
		payload["account"] = newAccountView(*derived)
	}
	s.writeDataMeta(w, r, http.StatusCreated, payload, consentMeta(decision))
}

// GetAgreement returns one agreement's detail.
func (s *Server) GetAgreement(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	agreement, err := s.Products.GetAgreement(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	owner, err := s.Ledger.GetClient(agreement.ClientID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	decision := s.Mediator.ProductAccess(claims, owner, requestedConsentID(r), consent.CapabilityRead, "")
	if !decision.Allowed() {
		s.denyAccess(w, decision.Err, "ReadProductAgreements")
		return
	}
	s.writeDataMeta(w, r, http.StatusOK, newAgreementView(agreement), consentMeta(decision))
}

// CloseAgreement closes an agreement. A loan must name a repayment account;
// a non-loan account with a remaining balance must name a payout account.
func (s *Server) CloseAgreement(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	agreement, err := s.Products.GetAgreement(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	owner, err := s.Ledger.GetClient(agreement.ClientID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	var catalog models.Product
	if err := s.DB.First(&catalog, "id = ?", agreement.ProductID).Error; err != nil {
		s.writeDomainError(w, err)
		return
	}
	decision := s.Mediator.ProductAccess(claims, owner, requestedConsentID(r), consent.CapabilityClose, catalog.ProductType)
	if !decision.Allowed() {
		s.denyAccess(w, decision.Err, "CloseProductAgreements")
		return
	}

	var req struct {
		RepaymentAccountID string `json:"repayment_account_id"`
		PayoutAccountID    string `json:"payout_account_id"`
	}
	// A body is optional on DELETE; decode errors on an empty body are fine.
	_ = decodeBody(r, &req)

	params := product.CloseParams{
		AgreementID: agreement.AgreementID,
		ClientID:    owner.ID,
	}
	if req.RepaymentAccountID != "" {
		id, err := ledger.ParseAccountID(req.RepaymentAccountID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		params.RepaymentAccountID = &id
	}
	if req.PayoutAccountID != "" {
		id, err := ledger.ParseAccountID(req.PayoutAccountID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		params.PayoutAccountID = &id
	}

	result, err := s.Products.CloseAgreement(params)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeDataMeta(w, r, http.StatusOK, map[string]any{
		"agreement": newAgreementView(result.Agreement),
		"repaid":    result.Repaid,
		"paid_out":  result.PaidOut,
	}, consentMeta(decision))
}

type leadView struct {
	LeadID             string          `json:"lead_id"`
	Status             string          `json:"status"`
	FullName           string          `json:"full_name"`
	Phone              string          `json:"phone,omitempty"`
	Email              string          `json:"email,omitempty"`
	InterestedProducts []string        `json:"interested_products"`
	Source             string          `json:"source,omitempty"`
	EstimatedIncome    decimal.Decimal `json:"estimated_income"`
	CreatedAt          time.Time       `json:"created_at"`
}

func newLeadView(l *models.CustomerLead) leadView {
	return leadView{
		LeadID:             l.LeadID,
		Status:             l.Status,
		FullName:           l.FullName,
		Phone:              l.Phone,
		Email:              l.Email,
		InterestedProducts: l.InterestedProducts,
		Source:             l.Source,
		EstimatedIncome:    l.EstimatedIncome,
		CreatedAt:          l.CreatedAt,
	}
}

// CreateLead registers a potential client.
func (s *Server) CreateLead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName           string          `json:"full_name"`
		Phone              string          `json:"phone"`
		Email              string          `json:"email"`
		InterestedProducts []string        `json:"interested_products"`
		Source             string          `json:"source"`
		Notes              string          `json:"notes"`
		EstimatedIncome    decimal.Decimal `json:"estimated_income"`
	}
	if err := decodeBody(r, &req); err != nil || req.FullName == "" {
		s.writeValidationError(w, "full_name is required")
		return
	}
	lead, err := s.Products.CreateLead(product.LeadParams{
		FullName:           req.FullName,
		Phone:              req.Phone,
		Email:              req.Email,
		InterestedProducts: req.InterestedProducts,
		Source:             req.Source,
		Notes:              req.Notes,
		EstimatedIncome:    req.EstimatedIncome,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusCreated, newLeadView(lead))
}

// ListLeads returns leads, optionally filtered by status.
func (s *Server) ListLeads(w http.ResponseWriter, r *http.Request) {
	leads, err := s.Products.ListLeads(r.URL.Query().Get("status"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	views := make([]leadView, 0, len(leads))
	for i := range leads {
		views = append(views, newLeadView(&leads[i]))
	}
	s.writeData(w, r, http.StatusOK, views)
}

// GetLead returns one lead.
func (s *Server) GetLead(w http.ResponseWriter, r *http.Request) {
	lead, err := s.Products.GetLead(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusOK, newLeadView(lead))
}

type offerView struct {
	OfferID            string          `json:"offer_id"`
	LeadID             string          `json:"lead_id"`
	PersonalizedRate   decimal.Decimal `json:"personalized_rate"`
	PersonalizedAmount decimal.Decimal `json:"personalized_amount"`
	TermMonths         int             `json:"term_months"`
	Status             string          `json:"status"`
	ValidUntil         *time.Time      `json:"valid_until,omitempty"`
	RespondedAt        *time.Time      `json:"responded_at,omitempty"`
}

func newOfferView(o *models.ProductOffer) offerView {
	return offerView{
		OfferID:            o.OfferID,
		LeadID:             o.LeadID,
		PersonalizedRate:   o.PersonalizedRate,
		PersonalizedAmount: o.PersonalizedAmount,
		TermMonths:         o.PersonalizedTermMonths,
		Status:             o.Status,
		ValidUntil:         o.ValidUntil,
		RespondedAt:        o.RespondedAt,
	}
}

// CreateOffer records a personalised offer. Institutions need an offer
// consent covering the lead; staff create offers directly.
func (s *Server) CreateOffer(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	var req struct {
		LeadID             string          `json:"lead_id"`
		ProductID          string          `json:"product_id"`
		PersonalizedRate   decimal.Decimal `json:"personalized_rate"`
		PersonalizedAmount decimal.Decimal `json:"personalized_amount"`
		TermMonths         int             `json:"term_months"`
		ValidUntil         *time.Time      `json:"valid_until"`
	}
	if err := decodeBody(r, &req); err != nil || req.LeadID == "" || req.ProductID == "" {
		s.writeValidationError(w, "lead_id and product_id are required")
		return
	}
	if claims.Type == auth.TypeInstitution {
		if _, err := s.Registry.CheckOfferAccess(req.LeadID, "MakeOffers"); err != nil {
			s.denyAccess(w, err, "MakeOffers")
			return
		}
	}
	offer, err := s.Products.CreateOffer(product.OfferParams{
		LeadID:             req.LeadID,
		ProductID:          req.ProductID,
		PersonalizedRate:   req.PersonalizedRate,
		PersonalizedAmount: req.PersonalizedAmount,
		TermMonths:         req.TermMonths,
		ValidUntil:         req.ValidUntil,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusCreated, newOfferView(offer))
}

// GetOffer returns one offer.
func (s *Server) GetOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := s.Products.GetOffer(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusOK, newOfferView(offer))
}

// RespondToOffer records the lead's accept or reject decision.
func (s *Server) RespondToOffer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Accept bool   `json:"accept"`
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeValidationError(w, "invalid request body")
		return
	}
	offer, err := s.Products.RespondToOffer(chi.URLParam(r, "id"), req.Accept, req.Reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusOK, newOfferView(offer))
}

type applicationView struct {
	ApplicationID   string          `json:"application_id"`
	OfferID         string          `json:"offer_id,omitempty"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	RequestedTerm   int             `json:"requested_term_months"`
	Status          string          `json:"status"`
	Decision        string          `json:"decision,omitempty"`
	DecisionReason  string          `json:"decision_reason,omitempty"`
	ApprovedAmount  decimal.Decimal `json:"approved_amount"`
	ApprovedRate    decimal.Decimal `json:"approved_rate"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	DecisionAt      *time.Time      `json:"decision_at,omitempty"`
}

func newApplicationView(a *models.ProductApplication) applicationView {
	return applicationView{
		ApplicationID:   a.ApplicationID,
		OfferID:         a.OfferID,
		RequestedAmount: a.RequestedAmount,
		RequestedTerm:   a.RequestedTermMonths,
		Status:          a.Status,
		Decision:        a.Decision,
		DecisionReason:  a.DecisionReason,
		ApprovedAmount:  a.ApprovedAmount,
		ApprovedRate:    a.ApprovedRate,
		SubmittedAt:     a.SubmittedAt,
		DecisionAt:      a.DecisionAt,
	}
}

// SubmitApplication records a client's application for a catalog product.
func (s *Server) SubmitApplication(w http.ResponseWriter, r *http.Request) {
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
		ProductID       string          `json:"product_id"`
		OfferID         string          `json:"offer_id"`
		RequestedAmount decimal.Decimal `json:"requested_amount"`
		RequestedTerm   int             `json:"requested_term_months"`
	}
	if err := decodeBody(r, &req); err != nil || req.ProductID == "" {
		s.writeValidationError(w, "product_id is required")
		return
	}
	application, err := s.Products.SubmitApplication(product.ApplicationParams{
		ClientID:        actor.ID,
		ProductID:       req.ProductID,
		OfferID:         req.OfferID,
		RequestedAmount: req.RequestedAmount,
		RequestedTerm:   req.RequestedTerm,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusCreated, newApplicationView(application))
}

// GetApplication returns one application.
func (s *Server) GetApplication(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", "")
		return
	}
	application, err := s.Products.GetApplication(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if claims.Type == auth.TypeClient {
		actor, err := s.Mediator.ResolveClient(claims.Subject)
		if err != nil || actor.ID != application.ClientID {
			s.writeDomainError(w, consent.ErrForbidden)
			return
		}
	}
	s.writeData(w, r, http.StatusOK, newApplicationView(application))
}

// DecideApplication records the bank's approve or reject decision.
func (s *Server) DecideApplication(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approve        bool            `json:"approve"`
		Reason         string          `json:"reason"`
		ApprovedAmount decimal.Decimal `json:"approved_amount"`
		ApprovedRate   decimal.Decimal `json:"approved_rate"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeValidationError(w, "invalid request body")
		return
	}
	application, err := s.Products.DecideApplication(chi.URLParam(r, "id"), req.Approve, req.Reason, req.ApprovedAmount, req.ApprovedRate)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusOK, newApplicationView(application))
}
