package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vbank/models"
)

// ErrInsufficientCapital is returned when an operation would take the bank's
// own funds below zero.
var ErrInsufficientCapital = errors.New("insufficient bank capital")

// LockAccount locks and returns an account row inside the caller's
// transaction. Only active accounts move money.
func (l *Ledger) LockAccount(tx *gorm.DB, id uint) (*models.Account, error) {
	var account models.Account
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&account, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// LockAccountByNumber locks and returns an active account by account number
// inside the caller's transaction.
func (l *Ledger) LockAccountByNumber(tx *gorm.DB, number string) (*models.Account, error) {
	var account models.Account
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&account, "account_number = ? AND status = ?", number, models.AccountStatusActive).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// Debit reduces a locked account's balance and appends the matching
// transaction row. The account must already be locked by the caller.
func (l *Ledger) Debit(tx *gorm.DB, account *models.Account, amount decimal.Decimal, counterparty, label string) error {
	if account.Status != models.AccountStatusActive {
		return ErrAccountClosed
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInsufficientFunds)
	}
	if account.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	now := l.now()
	account.Balance = account.Balance.Sub(amount)
	if err := tx.Save(account).Error; err != nil {
		return err
	}
	entry := models.Transaction{
		AccountID:       account.ID,
		TransactionID:   NewTransactionID(),
		Amount:          amount,
		Direction:       models.DirectionDebit,
		Counterparty:    counterparty,
		Description:     label,
		TransactionDate: now,
		CreatedAt:       now,
	}
	return tx.Create(&entry).Error
}

// Credit raises a locked account's balance and appends the matching
// transaction row.
func (l *Ledger) Credit(tx *gorm.DB, account *models.Account, amount decimal.Decimal, counterparty, label string) error {
	if account.Status != models.AccountStatusActive {
		return ErrAccountClosed
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInsufficientFunds)
	}
	now := l.now()
	account.Balance = account.Balance.Add(amount)
	if err := tx.Save(account).Error; err != nil {
		return err
	}
	entry := models.Transaction{
		AccountID:       account.ID,
		TransactionID:   NewTransactionID(),
		Amount:          amount,
		Direction:       models.DirectionCredit,
		Counterparty:    counterparty,
		Description:     label,
		TransactionDate: now,
		CreatedAt:       now,
	}
	return tx.Create(&entry).Error
}

// CapitalDelta describes an adjustment to the bank-capital row.
type CapitalDelta struct {
	Capital  decimal.Decimal
	Deposits decimal.Decimal
	Loans    decimal.Decimal
}

// AdjustCapital applies a delta to the bank's capital row under lock. Own
// funds are never allowed below zero.
func (l *Ledger) AdjustCapital(tx *gorm.DB, delta CapitalDelta) (*models.BankCapital, error) {
	var capital models.BankCapital
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&capital, "bank_code = ?", l.bankCode).Error; err != nil {
		return nil, err
	}
	next := capital.Capital.Add(delta.Capital)
	if next.IsNegative() {
		return nil, ErrInsufficientCapital
	}
	capital.Capital = next
	capital.TotalDeposits = capital.TotalDeposits.Add(delta.Deposits)
	capital.TotalLoans = capital.TotalLoans.Add(delta.Loans)
	capital.UpdatedAt = l.now()
	if err := tx.Save(&capital).Error; err != nil {
		return nil, err
	}
	return &capital, nil
}

// Capital returns the bank's capital row.
func (l *Ledger) Capital() (*models.BankCapital, error) {
	var capital models.BankCapital
	if err := l.db.First(&capital, "bank_code = ?", l.bankCode).Error; err != nil {
		return nil, err
	}
	return &capital, nil
}

// DB exposes the underlying handle so engines can compose ledger helpers into
// their own transactions.
func (l *Ledger) DB() *gorm.DB {
	return l.db
}
