package consent

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vbank/models"
)

// Product consent capabilities.
const (
	CapabilityRead  = "read"
	CapabilityOpen  = "open"
	CapabilityClose = "close"
)

// ProductTerms describe the capabilities an institution asks for.
type ProductTerms struct {
	ReadAgreements      bool
	OpenAgreements      bool
	CloseAgreements     bool
	AllowedProductTypes []string
	MaxAmount           decimal.Decimal
	ValidUntil          *time.Time
}

// RequestProductAccess records an institution's request for agreement
// management capabilities over a client's products.
func (r *Registry) RequestProductAccess(clientID uint, institution, institutionName string, terms ProductTerms, reason string) (*models.ProductConsentRequest, *models.ProductConsent, error) {
	if !terms.ReadAgreements && !terms.OpenAgreements && !terms.CloseAgreements {
		return nil, nil, fmt.Errorf("%w: at least one capability is required", ErrInvalidScope)
	}
	if terms.OpenAgreements && !terms.MaxAmount.IsPositive() {
		return nil, nil, fmt.Errorf("%w: open capability requires a positive max amount", ErrConsentMismatch)
	}
	now := r.now()
	req := models.ProductConsentRequest{
		RequestID:           newID("req"),
		ClientID:            clientID,
		Institution:         institution,
		InstitutionName:     institutionName,
		ReadAgreements:      terms.ReadAgreements,
		OpenAgreements:      terms.OpenAgreements,
		CloseAgreements:     terms.CloseAgreements,
		AllowedProductTypes: models.StringList(terms.AllowedProductTypes),
		MaxAmount:           terms.MaxAmount,
		ValidUntil:          terms.ValidUntil,
		Reason:              reason,
		Status:              models.ConsentAwaitingAuthorization,
		CreatedAt:           now,
	}

	var granted *models.ProductConsent
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&req).Error; err != nil {
			return err
		}
		if r.opts.AutoApproveProductConsents {
			consent, err := r.approveProductRequest(tx, &req)
			if err != nil {
				return err
			}
			granted = consent
			return nil
		}
		msg := fmt.Sprintf("%s requests product agreement access (types %v, cap %s)", institutionName, terms.AllowedProductTypes, terms.MaxAmount.StringFixed(2))
		return r.notify(tx, clientID, "product_consent_request", "Product agreement access request", msg, req.RequestID)
	})
	if err != nil {
		return nil, nil, err
	}
	return &req, granted, nil
}

func (r *Registry) approveProductRequest(tx *gorm.DB, req *models.ProductConsentRequest) (*models.ProductConsent, error) {
	now := r.now()
	if err := ValidateTransition(req.Status, models.ConsentAuthorized); err != nil {
		return nil, err
	}
	expiration := now.Add(r.opts.ConsentTTL)
	if req.ValidUntil != nil && req.ValidUntil.Before(expiration) {
		expiration = *req.ValidUntil
	}
	consent := models.ProductConsent{
		ConsentID:            newID("consent"),
		RequestID:            req.ID,
		ClientID:             req.ClientID,
		GrantedTo:            req.Institution,
		ReadAgreements:       req.ReadAgreements,
		OpenAgreements:       req.OpenAgreements,
		CloseAgreements:      req.CloseAgreements,
		AllowedProductTypes:  req.AllowedProductTypes,
		MaxAmount:            req.MaxAmount,
		CurrentTotalOpened:   decimal.Zero,
		Status:               models.ConsentAuthorized,
		ExpirationDateTime:   expiration,
		CreationDateTime:     now,
		StatusUpdateDateTime: now,
		SignedAt:             now,
	}
	if err := tx.Create(&consent).Error; err != nil {
		return nil, err
	}
	req.Status = models.ConsentAuthorized
	req.RespondedAt = &now
	if err := tx.Save(req).Error; err != nil {
		return nil, err
	}
	recordTransition("product", models.ConsentAuthorized)
	return &consent, nil
}

// SignProductRequest lets the granting client approve or reject a pending
// product consent request.
func (r *Registry) SignProductRequest(requestID string, clientID uint, approve bool) (*models.ProductConsent, error) {
	var granted *models.ProductConsent
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var req models.ProductConsentRequest
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&req, "request_id = ?", requestID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRequestNotFound
			}
			return err
		}
		if req.ClientID != clientID {
			return ErrNotGrantor
		}
		if req.Status != models.ConsentAwaitingAuthorization {
			return ErrAlreadyResponded
		}
		if !approve {
			now := r.now()
			req.Status = models.ConsentRejected
			req.RespondedAt = &now
			recordTransition("product", models.ConsentRejected)
			return tx.Save(&req).Error
		}
		consent, err := r.approveProductRequest(tx, &req)
		if err != nil {
			return err
		}
		granted = consent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return granted, nil
}

// GetProductConsent fetches a product consent by external id, lazily expiring it.
func (r *Registry) GetProductConsent(consentID string) (*models.ProductConsent, error) {
	var consent models.ProductConsent
	if err := r.db.First(&consent, "consent_id = ?", consentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.expireProductConsent(&consent)
	return &consent, nil
}

// RevokeProductConsent transitions an authorized product consent to Revoked.
func (r *Registry) RevokeProductConsent(consentID string) (*models.ProductConsent, error) {
	var consent models.ProductConsent
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&consent, "consent_id = ?", consentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := ValidateTransition(consent.Status, models.ConsentRevoked); err != nil {
			return err
		}
		now := r.now()
		consent.Status = models.ConsentRevoked
		consent.StatusUpdateDateTime = now
		consent.RevokedAt = &now
		recordTransition("product", models.ConsentRevoked)
		return tx.Save(&consent).Error
	})
	if err != nil {
		return nil, err
	}
	return &consent, nil
}

// CheckProductAccess answers whether the institution holds an authorized
// product consent for the client covering the capability and product type.
// A non-empty consentID pins the check to that exact consent.
func (r *Registry) CheckProductAccess(institution string, clientID uint, consentID, capability, productType string) (*models.ProductConsent, error) {
	consent, err := r.checkProductAccess(institution, clientID, consentID, capability, productType)
	recordCheck("product", err)
	return consent, err
}

func (r *Registry) checkProductAccess(institution string, clientID uint, consentID, capability, productType string) (*models.ProductConsent, error) {
	var consent models.ProductConsent
	if consentID != "" {
		if err := r.db.First(&consent, "consent_id = ?", consentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrInvalidConsent
			}
			return nil, err
		}
		if consent.GrantedTo != institution || consent.ClientID != clientID {
			return nil, ErrInvalidConsent
		}
	} else {
		err := r.db.
			Where("granted_to = ? AND client_id = ? AND status = ?", institution, clientID, models.ConsentAuthorized).
			Order("id DESC").
			First(&consent).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrConsentRequired
			}
			return nil, err
		}
	}
	r.expireProductConsent(&consent)
	if consent.Status != models.ConsentAuthorized {
		return nil, ErrInvalidConsent
	}
	switch capability {
	case CapabilityRead:
		if !consent.ReadAgreements {
			return nil, ErrInvalidScope
		}
	case CapabilityOpen:
		if !consent.OpenAgreements {
			return nil, ErrInvalidScope
		}
	case CapabilityClose:
		if !consent.CloseAgreements {
			return nil, ErrInvalidScope
		}
	default:
		return nil, fmt.Errorf("%w: unknown capability %q", ErrInvalidScope, capability)
	}
	if productType != "" && len(consent.AllowedProductTypes) > 0 && !consent.AllowedProductTypes.Contains(productType) {
		return nil, ErrInvalidScope
	}
	now := r.now()
	_ = r.db.Model(&models.ProductConsent{}).
		Where("id = ?", consent.ID).
		Update("last_accessed_at", now).Error
	consent.LastAccessedAt = &now
	return &consent, nil
}

// ReserveOpening charges an agreement amount against the consent's cumulative
// cap inside the caller's transaction. The consent row is locked so two
// concurrent openings cannot both fit under the cap.
func (r *Registry) ReserveOpening(tx *gorm.DB, consentRowID uint, amount decimal.Decimal) (*models.ProductConsent, error) {
	var consent models.ProductConsent
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&consent, "id = ?", consentRowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if consent.Status != models.ConsentAuthorized {
		return nil, ErrInvalidConsent
	}
	total := consent.CurrentTotalOpened.Add(amount)
	if total.GreaterThan(consent.MaxAmount) {
		return nil, ErrLimitExceeded
	}
	consent.CurrentTotalOpened = total
	consent.StatusUpdateDateTime = r.now()
	if err := tx.Save(&consent).Error; err != nil {
		return nil, err
	}
	return &consent, nil
}

func (r *Registry) expireProductConsent(consent *models.ProductConsent) {
	if consent.Status != models.ConsentAuthorized {
		return
	}
	now := r.now()
	if !expired(consent.ExpirationDateTime, now) {
		return
	}
	consent.Status = models.ConsentExpired
	consent.StatusUpdateDateTime = now
	recordTransition("product", models.ConsentExpired)
	_ = r.db.Model(&models.ProductConsent{}).
		Where("id = ? AND status = ?", consent.ID, models.ConsentAuthorized).
		Updates(map[string]interface{}{"status": models.ConsentExpired, "status_update_date_time": now}).Error
}
