package consent

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vbank/models"
)

// OfferTerms describe the data-processing permissions a lead or client grants
// for personalised offers.
type OfferTerms struct {
	LeadID      string
	ClientID    *uint
	Permissions []string
	ExpiresIn   time.Duration
}

// CreateOfferConsent records a personalised-offer consent. Offer consents are
// granted by the data subject directly, so they are authorized on creation.
func (r *Registry) CreateOfferConsent(institution string, terms OfferTerms) (*models.OfferConsent, error) {
	if len(terms.Permissions) == 0 {
		return nil, fmt.Errorf("%w: at least one permission is required", ErrInvalidScope)
	}
	if terms.LeadID == "" && terms.ClientID == nil {
		return nil, fmt.Errorf("%w: a lead or client must be named", ErrConsentMismatch)
	}
	if terms.LeadID != "" {
		var lead models.CustomerLead
		if err := r.db.First(&lead, "lead_id = ?", terms.LeadID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: lead %s", ErrNotFound, terms.LeadID)
			}
			return nil, err
		}
	}
	now := r.now()
	expiresIn := terms.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = r.opts.ConsentTTL
	}
	consent := models.OfferConsent{
		ConsentID:            newID("poc"),
		LeadID:               terms.LeadID,
		ClientID:             terms.ClientID,
		GrantedTo:            institution,
		Permissions:          models.StringList(terms.Permissions),
		Status:               models.ConsentAuthorized,
		ExpirationDateTime:   now.Add(expiresIn),
		CreationDateTime:     now,
		StatusUpdateDateTime: now,
	}
	if err := r.db.Create(&consent).Error; err != nil {
		return nil, err
	}
	recordTransition("offer", models.ConsentAuthorized)
	return &consent, nil
}

// GetOfferConsent fetches an offer consent by external id, lazily expiring it.
func (r *Registry) GetOfferConsent(consentID string) (*models.OfferConsent, error) {
	var consent models.OfferConsent
	if err := r.db.First(&consent, "consent_id = ?", consentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.expireOfferConsent(&consent)
	return &consent, nil
}

// RevokeOfferConsent transitions an authorized offer consent to Revoked.
func (r *Registry) RevokeOfferConsent(consentID string) (*models.OfferConsent, error) {
	var consent models.OfferConsent
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
		recordTransition("offer", models.ConsentRevoked)
		return tx.Save(&consent).Error
	})
	if err != nil {
		return nil, err
	}
	return &consent, nil
}

// CheckOfferAccess answers whether an authorized offer consent exists for the
// lead, covering the required permission.
func (r *Registry) CheckOfferAccess(leadID, permission string) (*models.OfferConsent, error) {
	consent, err := r.checkOfferAccess(leadID, permission)
	recordCheck("offer", err)
	return consent, err
}

func (r *Registry) checkOfferAccess(leadID, permission string) (*models.OfferConsent, error) {
	var consent models.OfferConsent
	err := r.db.
		Where("lead_id = ? AND status = ?", leadID, models.ConsentAuthorized).
		Order("id DESC").
		First(&consent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConsentRequired
		}
		return nil, err
	}
	r.expireOfferConsent(&consent)
	if consent.Status != models.ConsentAuthorized {
		return nil, ErrInvalidConsent
	}
	if permission != "" && !consent.Permissions.Contains(permission) {
		return nil, ErrInvalidScope
	}
	return &consent, nil
}

func (r *Registry) expireOfferConsent(consent *models.OfferConsent) {
	if consent.Status != models.ConsentAuthorized {
		return
	}
	now := r.now()
	if !expired(consent.ExpirationDateTime, now) {
		return
	}
	consent.Status = models.ConsentExpired
	consent.StatusUpdateDateTime = now
	recordTransition("offer", models.ConsentExpired)
	_ = r.db.Model(&models.OfferConsent{}).
		Where("id = ? AND status = ?", consent.ID, models.ConsentAuthorized).
		Updates(map[string]interface{}{"status": models.ConsentExpired, "status_update_date_time": now}).Error
}
