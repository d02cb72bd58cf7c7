package consent

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vbank/models"
)

// PaymentTerms are the immutable parameters a payment consent binds.
type PaymentTerms struct {
	Amount          decimal.Decimal
	Currency        string
	DebtorAccount   string
	CreditorAccount string
	CreditorName    string
	Reference       string
}

// RequestPayment records an institution's request to execute one exact
// payment on the client's behalf.
func (r *Registry) RequestPayment(clientID uint, institution, institutionName string, terms PaymentTerms, reason string) (*models.PaymentConsentRequest, *models.PaymentConsent, error) {
	if !terms.Amount.IsPositive() {
		return nil, nil, fmt.Errorf("%w: amount must be positive", ErrConsentMismatch)
	}
	if terms.CreditorAccount == "" {
		return nil, nil, fmt.Errorf("%w: creditor account is required", ErrConsentMismatch)
	}
	if terms.DebtorAccount == "" {
		return nil, nil, fmt.Errorf("%w: debtor account is required", ErrConsentMismatch)
	}
	now := r.now()
	req := models.PaymentConsentRequest{
		RequestID:       newID("req"),
		ClientID:        clientID,
		Institution:     institution,
		InstitutionName: institutionName,
		Amount:          terms.Amount,
		Currency:        terms.Currency,
		DebtorAccount:   terms.DebtorAccount,
		CreditorAccount: terms.CreditorAccount,
		CreditorName:    terms.CreditorName,
		Reference:       terms.Reference,
		Reason:          reason,
		Status:          models.ConsentAwaitingAuthorization,
		CreatedAt:       now,
	}

	var granted *models.PaymentConsent
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&req).Error; err != nil {
			return err
		}
		if r.opts.AutoApprovePaymentConsents {
			consent, err := r.approvePaymentRequest(tx, &req)
			if err != nil {
				return err
			}
			granted = consent
			return nil
		}
		msg := fmt.Sprintf("%s requests a payment of %s %s to %s", institutionName, terms.Amount.StringFixed(2), terms.Currency, terms.CreditorName)
		return r.notify(tx, clientID, "payment_consent_request", "Payment authorization request", msg, req.RequestID)
	})
	if err != nil {
		return nil, nil, err
	}
	return &req, granted, nil
}

func (r *Registry) approvePaymentRequest(tx *gorm.DB, req *models.PaymentConsentRequest) (*models.PaymentConsent, error) {
	now := r.now()
	if err := ValidateTransition(req.Status, models.ConsentAuthorized); err != nil {
		return nil, err
	}
	consent := models.PaymentConsent{
		ConsentID:            newID("consent"),
		RequestID:            req.ID,
		ClientID:             req.ClientID,
		GrantedTo:            req.Institution,
		Amount:               req.Amount,
		Currency:             req.Currency,
		DebtorAccount:        req.DebtorAccount,
		CreditorAccount:      req.CreditorAccount,
		CreditorName:         req.CreditorName,
		Reference:            req.Reference,
		Status:               models.ConsentAuthorized,
		ExpirationDateTime:   now.Add(r.opts.PaymentConsentTTL),
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
	recordTransition("payment", models.ConsentAuthorized)
	return &consent, nil
}

// SignPaymentRequest lets the granting client approve or reject a pending
// payment consent request.
func (r *Registry) SignPaymentRequest(requestID string, clientID uint, approve bool) (*models.PaymentConsent, error) {
	var granted *models.PaymentConsent
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var req models.PaymentConsentRequest
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
			recordTransition("payment", models.ConsentRejected)
			return tx.Save(&req).Error
		}
		consent, err := r.approvePaymentRequest(tx, &req)
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

// GetPaymentConsent fetches a payment consent by external id, lazily expiring it.
func (r *Registry) GetPaymentConsent(consentID string) (*models.PaymentConsent, error) {
	var consent models.PaymentConsent
	if err := r.db.First(&consent, "consent_id = ?", consentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.expirePaymentConsent(&consent)
	return &consent, nil
}

// RevokePaymentConsent transitions an authorized payment consent to Revoked.
func (r *Registry) RevokePaymentConsent(consentID string) (*models.PaymentConsent, error) {
	var consent models.PaymentConsent
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
		recordTransition("payment", models.ConsentRevoked)
		return tx.Save(&consent).Error
	})
	if err != nil {
		return nil, err
	}
	return &consent, nil
}

// ConsumePayment validates and consumes a payment consent inside the caller's
// transaction. The row is locked so two concurrent payments cannot both
// consume the same consent. The consent must be authorized, unexpired,
// granted to the requesting institution, and bind the instructed amount,
// currency, debtor and creditor exactly.
func (r *Registry) ConsumePayment(tx *gorm.DB, consentID, institution string, amount decimal.Decimal, currency, debtorAccount, creditorAccount string) (*models.PaymentConsent, error) {
	var consent models.PaymentConsent
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&consent, "consent_id = ?", consentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	now := r.now()
	if consent.Status == models.ConsentAuthorized && expired(consent.ExpirationDateTime, now) {
		consent.Status = models.ConsentExpired
		consent.StatusUpdateDateTime = now
		recordTransition("payment", models.ConsentExpired)
		if err := tx.Save(&consent).Error; err != nil {
			return nil, err
		}
	}
	if consent.Status != models.ConsentAuthorized {
		return nil, ErrInvalidConsent
	}
	if consent.GrantedTo != institution {
		return nil, ErrInvalidConsent
	}
	if !consent.Amount.Equal(amount) || consent.Currency != currency {
		return nil, ErrConsentMismatch
	}
	if consent.DebtorAccount != debtorAccount {
		return nil, ErrConsentMismatch
	}
	if consent.CreditorAccount != creditorAccount {
		return nil, ErrConsentMismatch
	}
	if err := ValidateTransition(consent.Status, models.ConsentConsumed); err != nil {
		return nil, err
	}
	consent.Status = models.ConsentConsumed
	consent.StatusUpdateDateTime = now
	consent.UsedAt = &now
	if err := tx.Save(&consent).Error; err != nil {
		return nil, err
	}
	recordTransition("payment", models.ConsentConsumed)
	return &consent, nil
}

func (r *Registry) expirePaymentConsent(consent *models.PaymentConsent) {
	if consent.Status != models.ConsentAuthorized {
		return
	}
	now := r.now()
	if !expired(consent.ExpirationDateTime, now) {
		return
	}
	consent.Status = models.ConsentExpired
	consent.StatusUpdateDateTime = now
	recordTransition("payment", models.ConsentExpired)
	_ = r.db.Model(&models.PaymentConsent{}).
		Where("id = ? AND status = ?", consent.ID, models.ConsentAuthorized).
		Updates(map[string]interface{}{"status": models.ConsentExpired, "status_update_date_time": now}).Error
}
