package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"vbank/ledger"
	"vbank/models"
	"vbank/observability"
)

// VRPInstruction carries the parameters of a payment under a VRP mandate.
type VRPInstruction struct {
	ConsentID          string
	Amount             decimal.Decimal
	DestinationAccount string
	DestinationBank    string
	Description        string
	Recurring          bool
	Frequency          string
	NextPaymentDate    *time.Time
}

// ExecuteVRP runs the VRP pipeline. The mandate's four guards are evaluated
// under lock inside the same transaction as the debit.
func (e *Engine) ExecuteVRP(ctx context.Context, instr VRPInstruction) (*models.VRPPayment, error) {
	if !instr.Amount.IsPositive() {
		observability.Payments().RecordRejected("vrp", "invalid_amount")
		return nil, ErrInvalidAmount
	}
	if instr.DestinationAccount == "" {
		observability.Payments().RecordRejected("vrp", "destination_not_found")
		return nil, ErrDestinationNotFound
	}

	mandate, err := e.consents.GetVRPConsent(instr.ConsentID)
	if err != nil {
		observability.Payments().RecordRejected("vrp", "invalid_consent")
		return nil, err
	}
	source, err := e.ledger.GetAccount(mandate.AccountID)
	if err != nil {
		observability.Payments().RecordRejected("vrp", "source_not_found")
		return nil, ErrSourceNotFound
	}

	now := e.now()
	record := models.VRPPayment{
		PaymentID:            "vrp-pay-" + uuid.NewString(),
		VRPConsentID:         instr.ConsentID,
		AccountID:            source.ID,
		Amount:               instr.Amount,
		Currency:             source.Currency,
		DestinationAccount:   instr.DestinationAccount,
		DestinationBank:      instr.DestinationBank,
		Description:          describe(instr.Description, instr.DestinationAccount),
		Status:               models.PaymentStatusPending,
		IsRecurring:          instr.Recurring,
		RecurrenceFrequency:  instr.Frequency,
		NextPaymentDate:      instr.NextPaymentDate,
		CreationDateTime:     now,
		StatusUpdateDateTime: now,
	}
	if err := e.db.Create(&record).Error; err != nil {
		return nil, err
	}

	var transfer *models.InterbankTransfer
	scope := "intra"
	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := e.consents.AuthorizeVRPDebit(tx, instr.ConsentID, instr.Amount); err != nil {
			return err
		}
		src, err := e.ledger.LockAccount(tx, mandate.AccountID)
		if err != nil {
			return ErrSourceNotFound
		}

		dest, err := e.ledger.LockAccountByNumber(tx, instr.DestinationAccount)
		switch {
		case err == nil && dest.ID != src.ID:
			if dest.Currency != src.Currency {
				return ErrCurrencyMismatch
			}
			if err := e.ledger.Debit(tx, src, instr.Amount, dest.AccountNumber, record.Description); err != nil {
				return err
			}
			if err := e.ledger.Credit(tx, dest, instr.Amount, src.AccountNumber, record.Description); err != nil {
				return err
			}
		case err == nil:
			return ErrDestinationNotFound
		case errors.Is(err, ledger.ErrAccountNotFound):
			if instr.DestinationBank == "" || instr.DestinationBank == e.bankCode {
				return ErrDestinationNotFound
			}
			scope = "inter"
			if err := e.ledger.Debit(tx, src, instr.Amount, instr.DestinationAccount, record.Description); err != nil {
				return err
			}
			if _, err := e.ledger.AdjustCapital(tx, ledger.CapitalDelta{Capital: instr.Amount.Neg()}); err != nil {
				return err
			}
			leg := models.InterbankTransfer{
				TransferID: "ibt-" + uuid.NewString(),
				PaymentID:  record.PaymentID,
				FromBank:   e.bankCode,
				ToBank:     instr.DestinationBank,
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

		executed := e.now()
		record.Status = models.PaymentStatusCompleted
		record.StatusUpdateDateTime = executed
		record.ExecutedAt = &executed
		return tx.Save(&record).Error
	})
	if txErr != nil {
		record.Status = models.PaymentStatusFailed
		record.StatusUpdateDateTime = e.now()
		_ = e.db.Save(&record).Error
		observability.Payments().RecordRejected("vrp", rejectionReason(txErr))
		return &record, txErr
	}

	if transfer != nil {
		e.settleTransfer(ctx, transfer, record.Currency)
	}
	amt, _ := record.Amount.Float64()
	observability.Payments().RecordExecuted("vrp", scope, amt)
	return &record, nil
}

// GetVRPPayment fetches a VRP payment by external id.
func (e *Engine) GetVRPPayment(paymentID string) (*models.VRPPayment, error) {
	var record models.VRPPayment
	if err := e.db.First(&record, "payment_id = ?", paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &record, nil
}
