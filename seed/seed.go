// Package seed provisions the fixtures a fresh sandbox needs to be usable:
// the bank's capital row, demo clients with funded accounts, and a default
// product catalog.
package seed

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"vbank/ledger"
	"vbank/models"
)

// Capital ensures the bank's own-funds row exists. An existing row is left
// untouched so restarts never reset the capital.
func Capital(db *gorm.DB, bankCode string, initial decimal.Decimal) error {
	var capital models.BankCapital
	err := db.First(&capital, "bank_code = ?", bankCode).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	capital = models.BankCapital{
		BankCode:       bankCode,
		Capital:        initial,
		InitialCapital: initial,
		TotalDeposits:  decimal.Zero,
		TotalLoans:     decimal.Zero,
		UpdatedAt:      time.Now(),
	}
	return db.Create(&capital).Error
}

// DemoData provisions demo clients with funded checking accounts and the
// default product catalog. Idempotent: it checks for its own markers first.
func DemoData(db *gorm.DB, book *ledger.Ledger) error {
	if err := demoClients(db, book); err != nil {
		return err
	}
	return defaultCatalog(db)
}

func demoClients(db *gorm.DB, book *ledger.Ledger) error {
	var count int64
	if err := db.Model(&models.Client{}).Where("person_id LIKE ?", "demo-%").Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	names := []string{
		"Anna Petrova", "Boris Ivanov", "Vera Sokolova",
		"Grigory Smirnov", "Daria Kuznetsova",
	}
	balances := []int64{250000, 120000, 80000, 500000, 45000}
	for i, name := range names {
		client := models.Client{
			PersonID:      fmt.Sprintf("demo-%d", i+1),
			ClientType:    "individual",
			FullName:      name,
			Segment:       "mass",
			BirthYear:     1970 + i*7,
			MonthlyIncome: decimal.NewFromInt(60000 + int64(i)*25000),
			IsActive:      true,
			CreatedAt:     time.Now(),
		}
		if err := db.Create(&client).Error; err != nil {
			return err
		}
		if _, err := book.CreateAccount(client.ID, models.AccountTypeChecking, "RUB", decimal.NewFromInt(balances[i])); err != nil {
			return err
		}
	}
	return nil
}

func defaultCatalog(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Product{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	products := []models.Product{
		{
			ProductType:  models.ProductTypeDeposit,
			Name:         "Classic Savings Deposit",
			Description:  "Fixed-term deposit with monthly capitalisation.",
			InterestRate: decimal.NewFromFloat(7.5),
			MinAmount:    decimal.NewFromInt(10000),
			MaxAmount:    decimal.NewFromInt(3000000),
			TermMonths:   12,
		},
		{
			ProductType:  models.ProductTypeDeposit,
			Name:         "Short-Term Deposit",
			Description:  "Three-month deposit for parking spare cash.",
			InterestRate: decimal.NewFromFloat(5.0),
			MinAmount:    decimal.NewFromInt(5000),
			MaxAmount:    decimal.NewFromInt(1000000),
			TermMonths:   3,
		},
		{
			ProductType:  models.ProductTypeLoan,
			Name:         "Consumer Loan",
			Description:  "Unsecured consumer loan up to one million.",
			InterestRate: decimal.NewFromFloat(14.9),
			MinAmount:    decimal.NewFromInt(50000),
			MaxAmount:    decimal.NewFromInt(1000000),
			TermMonths:   36,
		},
		{
			ProductType:  models.ProductTypeCard,
			Name:         "Everyday Debit Card",
			Description:  "Debit card with a dedicated card account.",
			InterestRate: decimal.Zero,
			MinAmount:    decimal.NewFromInt(1),
			MaxAmount:    decimal.NewFromInt(500000),
		},
		{
			ProductType:  models.ProductTypeCreditCard,
			Name:         "Credit Card Standard",
			Description:  "Revolving credit card with a grace period.",
			InterestRate: decimal.NewFromFloat(21.9),
			MinAmount:    decimal.NewFromInt(10000),
			MaxAmount:    decimal.NewFromInt(300000),
		},
	}
	for i := range products {
		products[i].ProductID = "prod-" + uuid.NewString()
		products[i].IsActive = true
		products[i].CreatedAt = time.Now()
		if err := db.Create(&products[i]).Error; err != nil {
			return err
		}
	}
	return nil
}
