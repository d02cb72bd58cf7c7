// Package ledger owns accounts, balances, and the immutable transaction log.
package ledger

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vbank/models"
)

// Sentinel errors surfaced by the ledger.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrClientNotFound      = errors.New("client not found")
	ErrAccountClosed       = errors.New("account is closed")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidCloseAction  = errors.New("close action must be transfer or donate")
	ErrDestinationRequired = errors.New("destination account is required for transfer")
	ErrSameAccount         = errors.New("source and destination are the same account")
)

// DefaultPageSize applies when the caller supplies no limit.
const DefaultPageSize = 50

// MaxPageSize caps a single history page.
const MaxPageSize = 500

// Page carries paging metadata computed in the same snapshot as the slice.
type Page struct {
	Page         int
	PageSize     int
	TotalRecords int64
	TotalPages   int
}

// Ledger mediates all account and transaction access.
type Ledger struct {
	db       *gorm.DB
	bankCode string
	now      func() time.Time
}

// New constructs a ledger over the given database handle.
func New(db *gorm.DB, bankCode string) *Ledger {
	return &Ledger{db: db, bankCode: bankCode, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (l *Ledger) WithNow(now func() time.Time) *Ledger {
	if now != nil {
		l.now = now
	}
	return l
}

// ParseAccountID strips the external "acc-" prefix and returns the row id.
func ParseAccountID(external string) (uint, error) {
	raw := strings.TrimPrefix(external, "acc-")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrAccountNotFound, external)
	}
	return uint(id), nil
}

// ExternalAccountID formats a row id into the external form.
func ExternalAccountID(id uint) string {
	return fmt.Sprintf("acc-%d", id)
}

// GetClient fetches a client by row id.
func (l *Ledger) GetClient(id uint) (*models.Client, error) {
	var client models.Client
	if err := l.db.First(&client, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	return &client, nil
}

// GetClientByPersonID fetches a client by its external person id.
func (l *Ledger) GetClientByPersonID(personID string) (*models.Client, error) {
	var client models.Client
	if err := l.db.First(&client, "person_id = ?", personID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	return &client, nil
}

// ListAccounts returns every account owned by the client, oldest first.
func (l *Ledger) ListAccounts(clientID uint) ([]models.Account, error) {
	var accounts []models.Account
	if err := l.db.Where("client_id = ?", clientID).Order("id").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// GetAccount fetches an account by row id.
func (l *Ledger) GetAccount(id uint) (*models.Account, error) {
	var account models.Account
	if err := l.db.First(&account, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetAccountByNumber fetches an account by its account number.
func (l *Ledger) GetAccountByNumber(number string) (*models.Account, error) {
	var account models.Account
	if err := l.db.First(&account, "account_number = ?", number).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// CreateAccount opens a new account for the client. A positive opening
// balance is recorded as the account's first transaction.
func (l *Ledger) CreateAccount(clientID uint, accountType, currency string, openingBalance decimal.Decimal) (*models.Account, error) {
	if _, err := l.GetClient(clientID); err != nil {
		return nil, err
	}
	if openingBalance.IsNegative() {
		return nil, fmt.Errorf("%w: opening balance must not be negative", ErrInsufficientFunds)
	}
	if currency == "" {
		currency = "RUB"
	}
	now := l.now()
	account := models.Account{
		ClientID:      clientID,
		AccountNumber: l.newAccountNumber(accountType),
		AccountType:   accountType,
		Balance:       openingBalance,
		Currency:      currency,
		Status:        models.AccountStatusActive,
		OpenedAt:      now,
	}
	err := l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&account).Error; err != nil {
			return err
		}
		if openingBalance.IsPositive() {
			opening := models.Transaction{
				AccountID:       account.ID,
				TransactionID:   NewTransactionID(),
				Amount:          openingBalance,
				Direction:       models.DirectionCredit,
				Counterparty:    l.bankCode,
				Description:     "Opening balance",
				TransactionDate: now,
				CreatedAt:       now,
			}
			return tx.Create(&opening).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Transactions returns one page of the account's history, newest first. The
// total is computed inside the same transaction as the slice so the two
// always agree. Out-of-range paging inputs are coerced, never rejected.
func (l *Ledger) Transactions(accountID uint, page, limit int) ([]models.Transaction, Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	var items []models.Transaction
	var total int64
	err := l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Transaction{}).
			Where("account_id = ?", accountID).
			Count(&total).Error; err != nil {
			return err
		}
		return tx.Where("account_id = ?", accountID).
			Order("transaction_date DESC, id DESC").
			Offset((page - 1) * limit).
			Limit(limit).
			Find(&items).Error
	})
	if err != nil {
		return nil, Page{}, err
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return items, Page{Page: page, PageSize: limit, TotalRecords: total, TotalPages: totalPages}, nil
}

// CloseResult describes how a close disposed of the remaining balance.
type CloseResult struct {
	Account     *models.Account
	Action      string
	Amount      decimal.Decimal
	Destination *models.Account
}

// Close closes the account and disposes of its balance. "transfer" moves the
// balance to the destination account, "donate" surrenders it to the bank's
// capital. Both sides run in one transaction with the rows locked.
func (l *Ledger) Close(accountID uint, action string, destinationID *uint) (*CloseResult, error) {
	if action != "transfer" && action != "donate" {
		return nil, ErrInvalidCloseAction
	}
	result := &CloseResult{Action: action}
	err := l.db.Transaction(func(tx *gorm.DB) error {
		var account models.Account
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&account, "id = ?", accountID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return err
		}
		if account.Status == models.AccountStatusClosed {
			return ErrAccountClosed
		}
		balance := account.Balance
		now := l.now()

		switch action {
		case "transfer":
			if destinationID == nil {
				return ErrDestinationRequired
			}
			if *destinationID == account.ID {
				return ErrSameAccount
			}
			var dest models.Account
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&dest, "id = ?", *destinationID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrAccountNotFound
				}
				return err
			}
			if dest.Status == models.AccountStatusClosed {
				return ErrAccountClosed
			}
			if balance.IsPositive() {
				dest.Balance = dest.Balance.Add(balance)
				if err := tx.Save(&dest).Error; err != nil {
					return err
				}
				entries := []models.Transaction{
					{
						AccountID:       account.ID,
						TransactionID:   NewTransactionID(),
						Amount:          balance,
						Direction:       models.DirectionDebit,
						Counterparty:    dest.AccountNumber,
						Description:     "Account closure transfer",
						TransactionDate: now,
						CreatedAt:       now,
					},
					{
						AccountID:       dest.ID,
						TransactionID:   NewTransactionID(),
						Amount:          balance,
						Direction:       models.DirectionCredit,
						Counterparty:    account.AccountNumber,
						Description:     "Account closure transfer",
						TransactionDate: now,
						CreatedAt:       now,
					},
				}
				if err := tx.Create(&entries).Error; err != nil {
					return err
				}
			}
			result.Destination = &dest
		case "donate":
			if balance.IsPositive() {
				var capital models.BankCapital
				if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
					First(&capital, "bank_code = ?", l.bankCode).Error; err != nil {
					return err
				}
				capital.Capital = capital.Capital.Add(balance)
				capital.UpdatedAt = now
				if err := tx.Save(&capital).Error; err != nil {
					return err
				}
				donation := models.Transaction{
					AccountID:       account.ID,
					TransactionID:   NewTransactionID(),
					Amount:          balance,
					Direction:       models.DirectionDebit,
					Counterparty:    l.bankCode,
					Description:     "Account closure donation",
					TransactionDate: now,
					CreatedAt:       now,
				}
				if err := tx.Create(&donation).Error; err != nil {
					return err
				}
			}
		}

		account.Balance = decimal.Zero
		account.Status = models.AccountStatusClosed
		if err := tx.Save(&account).Error; err != nil {
			return err
		}
		result.Account = &account
		result.Amount = balance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// NewTransactionID mints an external transaction id.
func NewTransactionID() string {
	return "tx-" + uuid.NewString()
}

// newAccountNumber builds a 20-digit number with the type-specific prefix
// used by Russian account plans.
func (l *Ledger) newAccountNumber(accountType string) string {
	prefix := "40817810"
	switch accountType {
	case models.AccountTypeSavings, models.AccountTypeDeposit:
		prefix = "42301810"
	case models.AccountTypeLoan:
		prefix = "45507810"
	}
	var sb strings.Builder
	sb.WriteString(prefix)
	for sb.Len() < 20 {
		sb.WriteByte(byte('0' + rand.Intn(10)))
	}
	return sb.String()
}
