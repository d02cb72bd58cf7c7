package consent

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vbank/models"
)

var validAccountPermissions = map[string]struct{}{
	models.PermReadAccountsDetail:     {},
	models.PermReadBalances:           {},
	models.PermReadTransactionsDetail: {},
	models.PermReadCards:              {},
	models.PermManageCards:            {},
	models.PermManageAccounts:         {},
}

// ValidateAccountPermissions rejects permission names outside the account
// access vocabulary.
func ValidateAccountPermissions(permissions []string) error {
	if len(permissions) == 0 {
		return fmt.Errorf("%w: at least one permission is required", ErrInvalidScope)
	}
	for _, p := range permissions {
		if _, ok := validAccountPermissions[p]; !ok {
			return fmt.Errorf("%w: unknown permission %q", ErrInvalidScope, p)
		}
	}
	return nil
}

// RequestAccountAccess records an institution's request for account access.
// With auto-approval enabled the consent is created and authorized in the
// same transaction; otherwise the client is notified and must sign.
func (r *Registry) RequestAccountAccess(clientID uint, institution, institutionName string, permissions []string, reason string) (*models.AccountConsentRequest, *models.AccountConsent, error) {
	if err := ValidateAccountPermissions(permissions); err != nil {
		return nil, nil, err
	}
	now := r.now()
	req := models.AccountConsentRequest{
		RequestID:       newID("req"),
		ClientID:        clientID,
		Institution:     institution,
		InstitutionName: institutionName,
		Permissions:     models.StringList(permissions),
		Reason:          reason,
		Status:          models.ConsentAwaitingAuthorization,
		CreatedAt:       now,
	}

	var granted *models.AccountConsent
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&req).Error; err != nil {
			return err
		}
		if r.opts.AutoApproveConsents {
			consent, err := r.approveAccountRequest(tx, &req)
			if err != nil {
				return err
			}
			granted = consent
			return nil
		}
		msg := fmt.Sprintf("%s requests access to your accounts: %v", institutionName, permissions)
		return r.notify(tx, clientID, "consent_request", "Account access request", msg, req.RequestID)
	})
	if err != nil {
		return nil, nil, err
	}
	return &req, granted, nil
}

func (r *Registry) approveAccountRequest(tx *gorm.DB, req *models.AccountConsentRequest) (*models.AccountConsent, error) {
	now := r.now()
	if err := ValidateTransition(req.Status, models.ConsentAuthorized); err != nil {
		return nil, err
	}
	consent := models.AccountConsent{
		ConsentID:            newID("consent"),
		RequestID:            req.ID,
		ClientID:             req.ClientID,
		GrantedTo:            req.Institution,
		Permissions:          req.Permissions,
		Status:               models.ConsentAuthorized,
		ExpirationDateTime:   now.Add(r.opts.ConsentTTL),
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
	recordTransition("account", models.ConsentAuthorized)
	return &consent, nil
}

// SignAccountRequest lets the granting client approve or reject a pending
// request. Approval creates the authorized consent.
func (r *Registry) SignAccountRequest(requestID string, clientID uint, approve bool) (*models.AccountConsent, error) {
	var granted *models.AccountConsent
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var req models.AccountConsentRequest
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
			recordTransition("account", models.ConsentRejected)
			return tx.Save(&req).Error
		}
		consent, err := r.approveAccountRequest(tx, &req)
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

// GetAccountConsent fetches a consent by external id, lazily expiring it.
func (r *Registry) GetAccountConsent(consentID string) (*models.AccountConsent, error) {
	var consent models.AccountConsent
	if err := r.db.First(&consent, "consent_id = ?", consentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.expireAccountConsent(&consent)
	return &consent, nil
}

// RevokeAccountConsent transitions an authorized consent to Revoked. Both the
// grantor and the grantee institution may revoke.
func (r *Registry) RevokeAccountConsent(consentID string) (*models.AccountConsent, error) {
	var consent models.AccountConsent
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
		recordTransition("account", models.ConsentRevoked)
		return tx.Save(&consent).Error
	})
	if err != nil {
		return nil, err
	}
	return &consent, nil
}

// CheckAccountAccess answers whether the institution may perform an operation
// needing the given permissions against the client's data. A non-empty
// consentID pins the check to that exact consent; otherwise the newest
// authorized consent is matched. On success the matched consent is returned
// and its last access time updated best-effort.
func (r *Registry) CheckAccountAccess(institution string, clientID uint, consentID string, required []string) (*models.AccountConsent, error) {
	consent, err := r.checkAccountAccess(institution, clientID, consentID, required)
	recordCheck("account", err)
	return consent, err
}

func (r *Registry) checkAccountAccess(institution string, clientID uint, consentID string, required []string) (*models.AccountConsent, error) {
	var consent models.AccountConsent
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
	r.expireAccountConsent(&consent)
	if consent.Status != models.ConsentAuthorized {
		return nil, ErrInvalidConsent
	}
	if !consent.Permissions.ContainsAll(required) {
		return nil, ErrInvalidScope
	}
	// Best-effort access stamp; a failed update never fails the read.
	now := r.now()
	_ = r.db.Model(&models.AccountConsent{}).
		Where("id = ?", consent.ID).
		Update("last_accessed_at", now).Error
	consent.LastAccessedAt = &now
	return &consent, nil
}

func (r *Registry) expireAccountConsent(consent *models.AccountConsent) {
	if consent.Status != models.ConsentAuthorized {
		return
	}
	now := r.now()
	if !expired(consent.ExpirationDateTime, now) {
		return
	}
	consent.Status = models.ConsentExpired
	consent.StatusUpdateDateTime = now
	recordTransition("account", models.ConsentExpired)
	_ = r.db.Model(&models.AccountConsent{}).
		Where("id = ? AND status = ?", consent.ID, models.ConsentAuthorized).
		Updates(map[string]interface{}{"status": models.ConsentExpired, "status_update_date_time": now}).Error
}
