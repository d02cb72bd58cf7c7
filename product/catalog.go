package product

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vbank/models"
)

// ListProducts returns the catalog, optionally restricted to a product type.
func (m *Manager) ListProducts(productType string) ([]models.Product, error) {
	query := m.db.Where("is_active = ?", true)
	if productType != "" {
		query = query.Where("product_type = ?", productType)
	}
	var products []models.Product
	if err := query.Order("id").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// GetProduct fetches a catalog entry by external id.
func (m *Manager) GetProduct(productID string) (*models.Product, error) {
	var product models.Product
	if err := m.db.First(&product, "product_id = ?", productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

// LeadParams capture a marketing lead.
type LeadParams struct {
	FullName           string
	Phone              string
	Email              string
	InterestedProducts []string
	Source             string
	Notes              string
	EstimatedIncome    decimal.Decimal
}

// CreateLead registers a potential client.
func (m *Manager) CreateLead(params LeadParams) (*models.CustomerLead, error) {
	now := m.now()
	lead := models.CustomerLead{
		LeadID:             "lead-" + uuid.NewString(),
		Status:             "pending",
		FullName:           params.FullName,
		Phone:              params.Phone,
		Email:              params.Email,
		InterestedProducts: models.StringList(params.InterestedProducts),
		Source:             params.Source,
		Notes:              params.Notes,
		EstimatedIncome:    params.EstimatedIncome,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := m.db.Create(&lead).Error; err != nil {
		return nil, err
	}
	return &lead, nil
}

// GetLead fetches a lead by external id.
func (m *Manager) GetLead(leadID string) (*models.CustomerLead, error) {
	var lead models.CustomerLead
	if err := m.db.First(&lead, "lead_id = ?", leadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLeadNotFound
		}
		return nil, err
	}
	return &lead, nil
}

// ListLeads returns leads, optionally filtered by status.
func (m *Manager) ListLeads(status string) ([]models.CustomerLead, error) {
	query := m.db.Order("id DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var leads []models.CustomerLead
	if err := query.Find(&leads).Error; err != nil {
		return nil, err
	}
	return leads, nil
}

// OfferParams describe a personalised offer for a lead.
type OfferParams struct {
	LeadID             string
	ProductID          string
	PersonalizedRate   decimal.Decimal
	PersonalizedAmount decimal.Decimal
	TermMonths         int
	ValidUntil         *time.Time
}

// CreateOffer records a personalised offer against a lead.
func (m *Manager) CreateOffer(params OfferParams) (*models.ProductOffer, error) {
	if _, err := m.GetLead(params.LeadID); err != nil {
		return nil, err
	}
	product, err := m.GetProduct(params.ProductID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	offer := models.ProductOffer{
		OfferID:                "offer-" + uuid.NewString(),
		LeadID:                 params.LeadID,
		ProductID:              product.ID,
		PersonalizedRate:       params.PersonalizedRate,
		PersonalizedAmount:     params.PersonalizedAmount,
		PersonalizedTermMonths: params.TermMonths,
		Status:                 "pending",
		ValidUntil:             params.ValidUntil,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := m.db.Create(&offer).Error; err != nil {
		return nil, err
	}
	return &offer, nil
}

// GetOffer fetches an offer by external id.
func (m *Manager) GetOffer(offerID string) (*models.ProductOffer, error) {
	var offer models.ProductOffer
	if err := m.db.First(&offer, "offer_id = ?", offerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}
	return &offer, nil
}

// RespondToOffer records the lead's accept or reject decision.
func (m *Manager) RespondToOffer(offerID string, accept bool, reason string) (*models.ProductOffer, error) {
	var offer models.ProductOffer
	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&offer, "offer_id = ?", offerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOfferNotFound
			}
			return err
		}
		if offer.Status != "pending" {
			return fmt.Errorf("offer already %s", offer.Status)
		}
		now := m.now()
		if accept {
			offer.Status = "accepted"
		} else {
			offer.Status = "rejected"
			offer.RejectionReason = reason
		}
		offer.RespondedAt = &now
		offer.UpdatedAt = now
		return tx.Save(&offer).Error
	})
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// ApplicationParams describe a client's application for a product.
type ApplicationParams struct {
	ClientID        uint
	ProductID       string
	OfferID         string
	RequestedAmount decimal.Decimal
	RequestedTerm   int
}

// SubmitApplication records a product application.
func (m *Manager) SubmitApplication(params ApplicationParams) (*models.ProductApplication, error) {
	product, err := m.GetProduct(params.ProductID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	application := models.ProductApplication{
		ApplicationID:       "app-" + uuid.NewString(),
		ClientID:            params.ClientID,
		ProductID:           product.ID,
		OfferID:             params.OfferID,
		RequestedAmount:     params.RequestedAmount,
		RequestedTermMonths: params.RequestedTerm,
		Status:              "pending",
		SubmittedAt:         now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := m.db.Create(&application).Error; err != nil {
		return nil, err
	}
	return &application, nil
}

// DecideApplication records the bank's approve or reject decision.
func (m *Manager) DecideApplication(applicationID string, approve bool, reason string, approvedAmount, approvedRate decimal.Decimal) (*models.ProductApplication, error) {
	var application models.ProductApplication
	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&application, "application_id = ?", applicationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrApplicationNotFound
			}
			return err
		}
		if application.Status != "pending" {
			return fmt.Errorf("application already %s", application.Status)
		}
		now := m.now()
		if approve {
			application.Status = "approved"
			application.Decision = "approved"
			application.ApprovedAmount = approvedAmount
			application.ApprovedRate = approvedRate
		} else {
			application.Status = "rejected"
			application.Decision = "rejected"
		}
		application.DecisionReason = reason
		application.DecisionAt = &now
		application.UpdatedAt = now
		return tx.Save(&application).Error
	})
	if err != nil {
		return nil, err
	}
	return &application, nil
}

// GetApplication fetches an application by external id.
func (m *Manager) GetApplication(applicationID string) (*models.ProductApplication, error) {
	var application models.ProductApplication
	if err := m.db.First(&application, "application_id = ?", applicationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}
	return &application, nil
}

// ListApplications returns a client's applications, newest first.
func (m *Manager) ListApplications(clientID uint) ([]models.ProductApplication, error) {
	var applications []models.ProductApplication
	if err := m.db.Where("client_id = ?", clientID).Order("id DESC").Find(&applications).Error; err != nil {
		return nil, err
	}
	return applications, nil
}

// newDerivedAccountNumber builds a 20-digit number in the plan range of the
// derived account type.
func newDerivedAccountNumber(accountType string) string {
	prefix := "40817810"
	switch accountType {
	case models.AccountTypeDeposit:
		prefix = "42301810"
	case models.AccountTypeLoan:
		prefix = "45507810"
	case models.AccountTypeCard:
		prefix = "40817810"
	}
	var sb strings.Builder
	sb.WriteString(prefix)
	for sb.Len() < 20 {
		sb.WriteByte(byte('0' + rand.Intn(10)))
	}
	return sb.String()
}
