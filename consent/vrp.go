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

// VRPTerms are the guard parameters of a variable-recurring-payment mandate.
type VRPTerms struct {
	AccountID           uint
	MaxIndividualAmount decimal.Decimal
	MaxAmountPeriod     decimal.Decimal
	PeriodType          string
	MaxPaymentsCount    int
	ValidFrom           time.Time
	ValidTo             time.Time
}

var validPeriods = map[string]struct{}{
	models.PeriodDay:   {},
	models.PeriodWeek:  {},
	models.PeriodMonth: {},
	models.PeriodYear:  {},
}

// CreateVRPConsent sets up a VRP mandate. Mandates are authorized on creation;
// the client approves them through the initiating channel.
func (r *Registry) CreateVRPConsent(clientID uint, institution string, terms VRPTerms) (*models.VRPConsent, error) {
	if _, ok := validPeriods[terms.PeriodType]; !ok {
		return nil, fmt.Errorf("%w: unknown period type %q", ErrConsentMismatch, terms.PeriodType)
	}
	if !terms.MaxIndividualAmount.IsPositive() || !terms.MaxAmountPeriod.IsPositive() {
		return nil, fmt.Errorf("%w: caps must be positive", ErrConsentMismatch)
	}
	if terms.MaxPaymentsCount <= 0 {
		return nil, fmt.Errorf("%w: max payments count must be positive", ErrConsentMismatch)
	}
	now := r.now()
	validFrom := terms.ValidFrom
	if validFrom.IsZero() {
		validFrom = now
	}
	validTo := terms.ValidTo
	if validTo.IsZero() {
		validTo = now.Add(r.opts.ConsentTTL)
	}
	if !validFrom.Before(validTo) {
		return nil, fmt.Errorf("%w: validity window is empty", ErrConsentMismatch)
	}
	consent := models.VRPConsent{
		ConsentID:           newID("vrp"),
		ClientID:            clientID,
		AccountID:           terms.AccountID,
		GrantedTo:           institution,
		Status:              models.ConsentAuthorized,
		MaxIndividualAmount: terms.MaxIndividualAmount,
		MaxAmountPeriod:     terms.MaxAmountPeriod,
		PeriodType:          terms.PeriodType,
		MaxPaymentsCount:    terms.MaxPaymentsCount,
		ValidFrom:           validFrom,
		ValidTo:             validTo,
		CreatedAt:           now,
		AuthorizedAt:        &now,
	}
	if err := r.db.Create(&consent).Error; err != nil {
		return nil, err
	}
	recordTransition("vrp", models.ConsentAuthorized)
	return &consent, nil
}

// GetVRPConsent fetches a mandate by external id, lazily expiring it when the
// validity window has passed.
func (r *Registry) GetVRPConsent(consentID string) (*models.VRPConsent, error) {
	var consent models.VRPConsent
	if err := r.db.First(&consent, "consent_id = ?", consentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.expireVRPConsent(&consent)
	return &consent, nil
}

// RevokeVRPConsent transitions an authorized mandate to Revoked.
func (r *Registry) RevokeVRPConsent(consentID string) (*models.VRPConsent, error) {
	var consent models.VRPConsent
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
		consent.RevokedAt = &now
		recordTransition("vrp", models.ConsentRevoked)
		return tx.Save(&consent).Error
	})
	if err != nil {
		return nil, err
	}
	return &consent, nil
}

// AuthorizeVRPDebit evaluates the mandate's guards inside the caller's
// transaction and returns the locked consent on success. The period sum and
// payment count are computed inside the same transaction so a concurrent
// payment cannot slip under the caps.
//
// Guards, in order: validity window, per-payment cap, per-period amount cap
// over the calendar-aligned window containing now, and the total executed
// payment count.
func (r *Registry) AuthorizeVRPDebit(tx *gorm.DB, consentID string, amount decimal.Decimal) (*models.VRPConsent, error) {
	consent, err := r.authorizeVRPDebit(tx, consentID, amount)
	recordCheck("vrp", err)
	return consent, err
}

func (r *Registry) authorizeVRPDebit(tx *gorm.DB, consentID string, amount decimal.Decimal) (*models.VRPConsent, error) {
	var consent models.VRPConsent
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&consent, "consent_id = ?", consentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	now := r.now()
	if consent.Status == models.ConsentAuthorized && expired(consent.ValidTo, now) {
		consent.Status = models.ConsentExpired
		recordTransition("vrp", models.ConsentExpired)
		if err := tx.Save(&consent).Error; err != nil {
			return nil, err
		}
	}
	if consent.Status != models.ConsentAuthorized {
		return nil, ErrInvalidConsent
	}
	if now.Before(consent.ValidFrom) {
		return nil, ErrOutsideWindow
	}
	if amount.GreaterThan(consent.MaxIndividualAmount) {
		return nil, fmt.Errorf("%w: amount %s exceeds per-payment cap %s", ErrLimitExceeded, amount.StringFixed(2), consent.MaxIndividualAmount.StringFixed(2))
	}

	periodStart := PeriodStart(consent.PeriodType, now)
	var periodSum decimal.NullDecimal
	err := tx.Model(&models.VRPPayment{}).
		Select("SUM(amount)").
		Where("vrp_consent_id = ? AND status = ? AND executed_at >= ?", consent.ConsentID, models.PaymentStatusCompleted, periodStart).
		Scan(&periodSum).Error
	if err != nil {
		return nil, err
	}
	used := decimal.Zero
	if periodSum.Valid {
		used = periodSum.Decimal
	}
	if used.Add(amount).GreaterThan(consent.MaxAmountPeriod) {
		return nil, fmt.Errorf("%w: period cap %s would be exceeded (%s already executed)", ErrLimitExceeded, consent.MaxAmountPeriod.StringFixed(2), used.StringFixed(2))
	}

	var count int64
	err = tx.Model(&models.VRPPayment{}).
		Where("vrp_consent_id = ? AND status = ?", consent.ConsentID, models.PaymentStatusCompleted).
		Count(&count).Error
	if err != nil {
		return nil, err
	}
	if int(count)+1 > consent.MaxPaymentsCount {
		return nil, fmt.Errorf("%w: payment count cap %d reached", ErrLimitExceeded, consent.MaxPaymentsCount)
	}

	// Best-effort access stamp.
	_ = tx.Model(&models.VRPConsent{}).
		Where("id = ?", consent.ID).
		Update("last_accessed_at", now).Error
	consent.LastAccessedAt = &now
	return &consent, nil
}

func (r *Registry) expireVRPConsent(consent *models.VRPConsent) {
	if consent.Status != models.ConsentAuthorized {
		return
	}
	now := r.now()
	if !expired(consent.ValidTo, now) {
		return
	}
	consent.Status = models.ConsentExpired
	recordTransition("vrp", models.ConsentExpired)
	_ = r.db.Model(&models.VRPConsent{}).
		Where("id = ? AND status = ?", consent.ID, models.ConsentAuthorized).
		Update("status", models.ConsentExpired).Error
}
