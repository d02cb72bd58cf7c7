// Package product manages the catalog and the agreements that bind clients
// to deposits, loans, and cards.
package product

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vbank/consent"
	"vbank/ledger"
	"vbank/models"
)

// Sentinel errors surfaced by the manager.
var (
	ErrProductNotFound     = errors.New("product not found")
	ErrProductInactive     = errors.New("product is not offered")
	ErrAgreementNotFound   = errors.New("agreement not found")
	ErrAgreementClosed     = errors.New("agreement already closed")
	ErrAmountOutOfRange    = errors.New("amount outside the product bounds")
	ErrSourceRequired      = errors.New("a funding source account is required")
	ErrRepaymentRequired   = errors.New("loan repayment account is required")
	ErrDispositionNeeded   = errors.New("a payout account is required for the remaining balance")
	ErrUnknownProductType  = errors.New("unknown product type")
	ErrApplicationNotFound = errors.New("application not found")
	ErrOfferNotFound       = errors.New("offer not found")
	ErrLeadNotFound        = errors.New("lead not found")
)

// Manager owns product agreements and their derived accounts.
type Manager struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	consents *consent.Registry
	now      func() time.Time
}

// NewManager constructs an agreement manager.
func NewManager(db *gorm.DB, l *ledger.Ledger, registry *consent.Registry) *Manager {
	return &Manager{db: db, ledger: l, consents: registry, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (m *Manager) WithNow(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

// OpenParams describe one agreement opening.
type OpenParams struct {
	ClientID        uint
	ProductID       string
	Amount          decimal.Decimal
	SourceAccountID *uint

	// ConsentRowID charges the opening against an institution's product
	// consent cap. Zero means a first-party opening.
	ConsentRowID uint
}

// OpenAgreement opens an agreement and its derived account in one
// transaction. Deposits and funded cards debit the source; loans draw on the
// bank's own funds.
func (m *Manager) OpenAgreement(params OpenParams) (*models.ProductAgreement, *models.Account, error) {
	var product models.Product
	if err := m.db.First(&product, "product_id = ?", params.ProductID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrProductNotFound
		}
		return nil, nil, err
	}
	if !product.IsActive {
		return nil, nil, ErrProductInactive
	}
	if !params.Amount.IsPositive() {
		return nil, nil, fmt.Errorf("%w: amount must be positive", ErrAmountOutOfRange)
	}
	if product.MinAmount.IsPositive() && params.Amount.LessThan(product.MinAmount) {
		return nil, nil, fmt.Errorf("%w: minimum is %s", ErrAmountOutOfRange, product.MinAmount.StringFixed(2))
	}
	if product.MaxAmount.IsPositive() && params.Amount.GreaterThan(product.MaxAmount) {
		return nil, nil, fmt.Errorf("%w: maximum is %s", ErrAmountOutOfRange, product.MaxAmount.StringFixed(2))
	}

	var agreement models.ProductAgreement
	var derived *models.Account
	err := m.db.Transaction(func(tx *gorm.DB) error {
		if params.ConsentRowID != 0 {
			if _, err := m.consents.ReserveOpening(tx, params.ConsentRowID, params.Amount); err != nil {
				return err
			}
		}

		now := m.now()
		var account models.Account
		switch product.ProductType {
		case models.ProductTypeDeposit:
			if params.SourceAccountID == nil {
				return ErrSourceRequired
			}
			source, err := m.ledger.LockAccount(tx, *params.SourceAccountID)
			if err != nil {
				return err
			}
			account = models.Account{
				ClientID:    params.ClientID,
				AccountType: models.AccountTypeDeposit,
				Balance:     decimal.Zero,
				Currency:    source.Currency,
				Status:      models.AccountStatusActive,
				OpenedAt:    now,
			}
			account.AccountNumber = newDerivedAccountNumber(models.AccountTypeDeposit)
			if err := tx.Create(&account).Error; err != nil {
				return err
			}
			if err := m.ledger.Debit(tx, source, params.Amount, account.AccountNumber, fmt.Sprintf("Deposit funding: %s", product.Name)); err != nil {
				return err
			}
			if err := m.ledger.Credit(tx, &account, params.Amount, source.AccountNumber, fmt.Sprintf("Deposit opening: %s", product.Name)); err != nil {
				return err
			}
			if _, err := m.ledger.AdjustCapital(tx, ledger.CapitalDelta{Deposits: params.Amount}); err != nil {
				return err
			}
		case models.ProductTypeLoan:
			// Principal comes out of own funds; AdjustCapital rejects a
			// draw the capital cannot cover.
			if _, err := m.ledger.AdjustCapital(tx, ledger.CapitalDelta{Capital: params.Amount.Neg(), Loans: params.Amount}); err != nil {
				return err
			}
			account = models.Account{
				ClientID:    params.ClientID,
				AccountType: models.AccountTypeLoan,
				Balance:     decimal.Zero,
				Currency:    "RUB",
				Status:      models.AccountStatusActive,
				OpenedAt:    now,
			}
			account.AccountNumber = newDerivedAccountNumber(models.AccountTypeLoan)
			if err := tx.Create(&account).Error; err != nil {
				return err
			}
			if err := m.ledger.Credit(tx, &account, params.Amount, "capital", fmt.Sprintf("Loan disbursement: %s", product.Name)); err != nil {
				return err
			}
		case models.ProductTypeCard, models.ProductTypeCreditCard:
			account = models.Account{
				ClientID:    params.ClientID,
				AccountType: models.AccountTypeCard,
				Balance:     decimal.Zero,
				Currency:    "RUB",
				Status:      models.AccountStatusActive,
				OpenedAt:    now,
			}
			account.AccountNumber = newDerivedAccountNumber(models.AccountTypeCard)
			if err := tx.Create(&account).Error; err != nil {
				return err
			}
			if params.SourceAccountID != nil {
				source, err := m.ledger.LockAccount(tx, *params.SourceAccountID)
				if err != nil {
					return err
				}
				account.Currency = source.Currency
				if err := m.ledger.Debit(tx, source, params.Amount, account.AccountNumber, fmt.Sprintf("Card funding: %s", product.Name)); err != nil {
					return err
				}
				if err := m.ledger.Credit(tx, &account, params.Amount, source.AccountNumber, fmt.Sprintf("Card opening: %s", product.Name)); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("%w: %s", ErrUnknownProductType, product.ProductType)
		}

		accountID := account.ID
		var endDate *time.Time
		if product.TermMonths > 0 {
			end := now.AddDate(0, product.TermMonths, 0)
			endDate = &end
		}
		agreement = models.ProductAgreement{
			AgreementID: "agr-" + uuid.NewString(),
			ClientID:    params.ClientID,
			ProductID:   product.ID,
			AccountID:   &accountID,
			Amount:      params.Amount,
			Status:      models.AgreementStatusActive,
			StartDate:   now,
			EndDate:     endDate,
			CreatedAt:   now,
		}
		if err := tx.Create(&agreement).Error; err != nil {
			return err
		}
		derived = &account
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &agreement, derived, nil
}

// CloseParams describe one agreement closure.
type CloseParams struct {
	AgreementID string
	ClientID    uint

	// RepaymentAccountID nominates the account a loan's outstanding
	// principal is repaid from.
	RepaymentAccountID *uint

	// PayoutAccountID receives any remaining balance of a non-loan
	// derived account.
	PayoutAccountID *uint
}

// CloseResult describes the closure outcome.
type CloseResult struct {
	Agreement *models.ProductAgreement
	Repaid    decimal.Decimal
	PaidOut   decimal.Decimal
}

// CloseAgreement closes an agreement and its derived account. A loan's
// outstanding principal must be repaid first; the repayment restores the
// bank's capital. A non-loan account with a remaining balance pays out to a
// nominated account.
func (m *Manager) CloseAgreement(params CloseParams) (*CloseResult, error) {
	result := &CloseResult{Repaid: decimal.Zero, PaidOut: decimal.Zero}
	err := m.db.Transaction(func(tx *gorm.DB) error {
		var agreement models.ProductAgreement
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&agreement, "agreement_id = ? AND client_id = ?", params.AgreementID, params.ClientID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAgreementNotFound
			}
			return err
		}
		if agreement.Status == models.AgreementStatusClosed {
			return ErrAgreementClosed
		}
		var product models.Product
		if err := tx.First(&product, "id = ?", agreement.ProductID).Error; err != nil {
			return err
		}

		var account *models.Account
		if agreement.AccountID != nil {
			locked, err := m.ledger.LockAccount(tx, *agreement.AccountID)
			if err != nil {
				return err
			}
			account = locked
		}

		if product.ProductType == models.ProductTypeLoan && account != nil && account.Balance.IsPositive() {
			if params.RepaymentAccountID == nil {
				return fmt.Errorf("%w: outstanding principal %s", ErrRepaymentRequired, account.Balance.StringFixed(2))
			}
			repayFrom, err := m.ledger.LockAccount(tx, *params.RepaymentAccountID)
			if err != nil {
				return err
			}
			if repayFrom.ClientID != params.ClientID {
				return ledger.ErrAccountNotFound
			}
			debt := account.Balance
			if err := m.ledger.Debit(tx, repayFrom, debt, account.AccountNumber, fmt.Sprintf("Loan repayment: %s", product.Name)); err != nil {
				return err
			}
			if err := m.ledger.Debit(tx, account, debt, repayFrom.AccountNumber, fmt.Sprintf("Loan repayment from %s", repayFrom.AccountNumber)); err != nil {
				return err
			}
			if _, err := m.ledger.AdjustCapital(tx, ledger.CapitalDelta{Capital: debt, Loans: debt.Neg()}); err != nil {
				return err
			}
			result.Repaid = debt
		} else if account != nil && account.Balance.IsPositive() {
			if params.PayoutAccountID == nil {
				return fmt.Errorf("%w: remaining balance %s", ErrDispositionNeeded, account.Balance.StringFixed(2))
			}
			payout, err := m.ledger.LockAccount(tx, *params.PayoutAccountID)
			if err != nil {
				return err
			}
			remaining := account.Balance
			if err := m.ledger.Debit(tx, account, remaining, payout.AccountNumber, fmt.Sprintf("Agreement closure: %s", product.Name)); err != nil {
				return err
			}
			if err := m.ledger.Credit(tx, payout, remaining, account.AccountNumber, fmt.Sprintf("Agreement payout: %s", product.Name)); err != nil {
				return err
			}
			if product.ProductType == models.ProductTypeDeposit {
				if _, err := m.ledger.AdjustCapital(tx, ledger.CapitalDelta{Deposits: remaining.Neg()}); err != nil {
					return err
				}
			}
			result.PaidOut = remaining
		}

		if account != nil {
			account.Status = models.AccountStatusClosed
			if err := tx.Save(account).Error; err != nil {
				return err
			}
		}
		agreement.Status = models.AgreementStatusClosed
		if err := tx.Save(&agreement).Error; err != nil {
			return err
		}
		result.Agreement = &agreement
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListAgreements returns the client's agreements, newest first.
func (m *Manager) ListAgreements(clientID uint) ([]models.ProductAgreement, error) {
	var agreements []models.ProductAgreement
	if err := m.db.Where("client_id = ?", clientID).Order("id DESC").Find(&agreements).Error; err != nil {
		return nil, err
	}
	return agreements, nil
}

// GetAgreement fetches an agreement by external id.
func (m *Manager) GetAgreement(agreementID string) (*models.ProductAgreement, error) {
	var agreement models.ProductAgreement
	if err := m.db.First(&agreement, "agreement_id = ?", agreementID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAgreementNotFound
		}
		return nil, err
	}
	return &agreement, nil
}
