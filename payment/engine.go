// Package payment executes single and variable-recurring payments, including
// the capital leg of inter-bank transfers.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"vbank/consent"
	"vbank/ledger"
	"vbank/models"
	"vbank/observability"
	"vbank/observability/logging"
)

// Sentinel errors surfaced by the engine.
var (
	ErrSourceNotFound      = errors.New("source account not found")
	ErrDestinationNotFound = errors.New("destination account not found")
	ErrCurrencyMismatch    = errors.New("currency mismatch")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrPaymentNotFound     = errors.New("payment not found")
)

// Instruction carries the parameters of a single payment.
type Instruction struct {
	DebtorAccountNumber   string
	CreditorAccountNumber string
	CreditorBankCode      string
	Amount                decimal.Decimal
	Currency              string
	Description           string
}

// ThirdParty marks an initiation mediated under an institution token. The
// consent gate then applies before any money moves.
type ThirdParty struct {
	Institution      string
	PaymentConsentID string
}

// Engine owns the payment pipeline.
type Engine struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	consents *consent.Registry
	bankCode string
	settler  SettlementClient
	now      func() time.Time
}

// NewEngine constructs a payment engine. settler may be nil in single-bank
// sandbox mode; transfers then complete locally.
func NewEngine(db *gorm.DB, l *ledger.Ledger, registry *consent.Registry, bankCode string, settler SettlementClient) *Engine {
	return &Engine{
		db:       db,
		ledger:   l,
		consents: registry,
		bankCode: bankCode,
		settler:  settler,
		now:      time.Now,
	}
}

// WithNow overrides the clock, for tests.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// Initiate runs the single-payment pipeline: resolve source, resolve target,
// consent gate, balance gate, atomic apply. The payment record is created
// Pending and driven to Completed or Failed.
func (e *Engine) Initiate(ctx context.Context, instr Instruction, thirdParty *ThirdParty) (*models.Payment, error) {
	if !instr.Amount.IsPositive() {
		observability.Payments().RecordRejected("single", "invalid_amount")
		return nil, ErrInvalidAmount
	}
	if instr.Currency == "" {
		instr.Currency = "RUB"
	}

	source, err := e.ledger.GetAccountByNumber(instr.DebtorAccountNumber)
	if err != nil {
		observability.Payments().RecordRejected("single", "source_not_found")
		return nil, ErrSourceNotFound
	}
	if source.Status != models.AccountStatusActive {
		observability.Payments().RecordRejected("single", "source_not_found")
		return nil, ErrSourceNotFound
	}

	now := e.now()
	record := models.Payment{
		PaymentID:            "pay-" + uuid.NewString(),
		AccountID:            source.ID,
		Amount:               instr.Amount,
		Currency:             instr.Currency,
		DestinationAccount:   instr.CreditorAccountNumber,
		DestinationBank:      instr.CreditorBankCode,
		Description:          instr.Description,
		Status:               models.PaymentStatusPending,
		CreationDateTime:     now,
		StatusUpdateDateTime: now,
	}
	if thirdParty != nil {
		record.PaymentConsentID = thirdParty.PaymentConsentID
	}
	if err := e.db.Create(&record).Error; err != nil {
		return nil, err
	}

	var transfer *models.InterbankTransfer
	scope := "intra"
	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		src, err := e.ledger.LockAccountByNumber(tx, instr.DebtorAccountNumber)
		if err != nil {
			return ErrSourceNotFound
		}
		if src.Currency != instr.Currency {
			return ErrCurrencyMismatch
		}

		if thirdParty != nil {
			if thirdParty.PaymentConsentID == "" {
				return consent.ErrConsentRequired
			}
			if _, err := e.consents.ConsumePayment(tx, thirdParty.PaymentConsentID, thirdParty.Institution, instr.Amount, instr.Currency, instr.DebtorAccountNumber, instr.CreditorAccountNumber); err != nil {
				return err
			}
		}

		dest, err := e.ledger.LockAccountByNumber(tx, instr.CreditorAccountNumber)
		switch {
		case err == nil:
			// Intra-bank: both legs in one transaction, equal and opposite.
			if dest.ID == src.ID {
				return ErrDestinationNotFound
			}
			if dest.Currency != instr.Currency {
				return ErrCurrencyMismatch
			}
			if err := e.ledger.Debit(tx, src, instr.Amount, dest.AccountNumber, instr.Description); err != nil {
				return err
			}
			if err := e.ledger.Credit(tx, dest, instr.Amount, src.AccountNumber, instr.Description); err != nil {
				return err
			}
		case errors.Is(err, ledger.ErrAccountNotFound):
			if instr.CreditorBankCode == "" || instr.CreditorBankCode == e.bankCode {
				return ErrDestinationNotFound
			}
			scope = "inter"
			if err := e.ledger.Debit(tx, src, instr.Amount, instr.CreditorAccountNumber, instr.Description); err != nil {
				return err
			}
			// Outbound leg reduces own funds by the full amount at 1:1.
			if _, err := e.ledger.AdjustCapital(tx, ledger.CapitalDelta{Capital: instr.Amount.Neg()}); err != nil {
				return err
			}
			leg := models.InterbankTransfer{
				TransferID: "ibt-" + uuid.NewString(),
				PaymentID:  record.PaymentID,
				FromBank:   e.bankCode,
				ToBank:     instr.CreditorBankCode,
				Amount:     instr.Amount,
				Status:     models.TransferStatusProcessing,
				CreatedAt:  e.now(),
			}
			if err := tx.Create(&leg).Error; err != nil {
				return err
			}
			transfer = &leg
		default:
			return err
		}

		record.Status = models.PaymentStatusCompleted
		record.StatusUpdateDateTime = e.now()
		return tx.Save(&record).Error
	})
	if txErr != nil {
		e.markFailed(&record)
		observability.Payments().RecordRejected("single", rejectionReason(txErr))
		return &record, txErr
	}

	if transfer != nil {
		e.settleTransfer(ctx, transfer, record.Currency)
	}
	amt, _ := record.Amount.Float64()
	observability.Payments().RecordExecuted("single", scope, amt)
	slog.Info("payment completed",
		"payment_id", record.PaymentID,
		"scope", scope,
		logging.MaskField("debtor_account", instr.DebtorAccountNumber),
		logging.MaskField("creditor_account", instr.CreditorAccountNumber))
	return &record, nil
}

// GetPayment fetches a payment by external id.
func (e *Engine) GetPayment(paymentID string) (*models.Payment, error) {
	var record models.Payment
	if err := e.db.First(&record, "payment_id = ?", paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (e *Engine) markFailed(record *models.Payment) {
	record.Status = models.PaymentStatusFailed
	record.StatusUpdateDateTime = e.now()
	if err := e.db.Save(record).Error; err != nil {
		slog.Error("record failed payment", "payment_id", record.PaymentID, "error", err)
	}
}

// settleTransfer drives the inter-bank leg to its terminal status. Without a
// configured counterparty the sandbox settles instantly; a failed outbound
// call leaves the leg processing for a later retry.
func (e *Engine) settleTransfer(ctx context.Context, transfer *models.InterbankTransfer, currency string) {
	if e.settler != nil {
		if err := e.settler.Settle(ctx, transfer.TransferID, transfer.FromBank, transfer.ToBank, transfer.Amount, currency); err != nil {
			slog.Warn("interbank settle failed", "transfer_id", transfer.TransferID, "to_bank", transfer.ToBank, "error", err)
			return
		}
	}
	now := e.now()
	transfer.Status = models.TransferStatusCompleted
	transfer.CompletedAt = &now
	if err := e.db.Save(transfer).Error; err != nil {
		slog.Error("record settled transfer", "transfer_id", transfer.TransferID, "error", err)
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrInsufficientCapital):
		return "insufficient_capital"
	case errors.Is(err, consent.ErrConsentRequired):
		return "consent_required"
	case errors.Is(err, consent.ErrConsentMismatch):
		return "consent_mismatch"
	case errors.Is(err, consent.ErrInvalidConsent), errors.Is(err, consent.ErrNotFound):
		return "invalid_consent"
	case errors.Is(err, consent.ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, consent.ErrOutsideWindow):
		return "outside_window"
	case errors.Is(err, ErrSourceNotFound):
		return "source_not_found"
	case errors.Is(err, ErrDestinationNotFound):
		return "destination_not_found"
	case errors.Is(err, ErrCurrencyMismatch):
		return "currency_mismatch"
	default:
		return "error"
	}
}

func describe(description, destination string) string {
	if description != "" {
		return description
	}
	return fmt.Sprintf("Payment to %s", destination)
}
