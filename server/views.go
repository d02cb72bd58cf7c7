package server

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"vbank/ledger"
	"vbank/models"
	"vbank/observability/logging"
)

// View structs decouple the wire shapes from the gorm models: external ids
// replace row ids and card numbers are masked for anyone but the owner.

type accountView struct {
	AccountID     string          `json:"account_id"`
	AccountNumber string          `json:"account_number"`
	AccountType   string          `json:"account_type"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	OpenedAt      time.Time       `json:"opened_at"`
}

func newAccountView(a models.Account) accountView {
	return accountView{
		AccountID:     ledger.ExternalAccountID(a.ID),
		AccountNumber: a.AccountNumber,
		AccountType:   a.AccountType,
		Balance:       a.Balance,
		Currency:      a.Currency,
		Status:        a.Status,
		OpenedAt:      a.OpenedAt,
	}
}

func newAccountViews(accounts []models.Account) []accountView {
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, newAccountView(a))
	}
	return views
}

type balanceView struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	AsOf      time.Time       `json:"as_of"`
}

type transactionView struct {
	TransactionID   string          `json:"transaction_id"`
	Amount          decimal.Decimal `json:"amount"`
	Direction       string          `json:"direction"`
	Counterparty    string          `json:"counterparty"`
	Description     string          `json:"description"`
	TransactionDate time.Time       `json:"transaction_date"`
}

func newTransactionViews(items []models.Transaction) []transactionView {
	views := make([]transactionView, 0, len(items))
	for _, t := range items {
		views = append(views, transactionView{
			TransactionID:   t.TransactionID,
			Amount:          t.Amount,
			Direction:       t.Direction,
			Counterparty:    t.Counterparty,
			Description:     t.Description,
			TransactionDate: t.TransactionDate,
		})
	}
	return views
}

type cardView struct {
	CardID       string          `json:"card_id"`
	AccountID    string          `json:"account_id"`
	CardNumber   string          `json:"card_number"`
	CardType     string          `json:"card_type"`
	CardName     string          `json:"card_name"`
	HolderName   string          `json:"holder_name"`
	Expiry       string          `json:"expiry"`
	DailyLimit   decimal.Decimal `json:"daily_limit"`
	MonthlyLimit decimal.Decimal `json:"monthly_limit"`
	Status       string          `json:"status"`
}

func newCardView(c models.Card, fullNumber bool) cardView {
	number := c.CardNumber
	if !fullNumber {
		number = logging.MaskPAN(number)
	}
	return cardView{
		CardID:       c.CardID,
		AccountID:    ledger.ExternalAccountID(c.AccountID),
		CardNumber:   number,
		CardType:     c.CardType,
		CardName:     c.CardName,
		HolderName:   c.HolderName,
		Expiry:       fmt.Sprintf("%02d/%d", c.ExpiryMonth, c.ExpiryYear),
		DailyLimit:   c.DailyLimit,
		MonthlyLimit: c.MonthlyLimit,
		Status:       c.Status,
	}
}

func newCardViews(cards []models.Card, fullNumber bool) []cardView {
	views := make([]cardView, 0, len(cards))
	for _, c := range cards {
		views = append(views, newCardView(c, fullNumber))
	}
	return views
}

type accountConsentView struct {
	ConsentID      string               `json:"consent_id"`
	GrantedTo      string               `json:"granted_to"`
	Permissions    []string             `json:"permissions"`
	Status         models.ConsentStatus `json:"status"`
	Expiration     time.Time            `json:"expiration_date_time"`
	Creation       time.Time            `json:"creation_date_time"`
	StatusUpdate   time.Time            `json:"status_update_date_time"`
	LastAccessedAt *time.Time           `json:"last_accessed_at,omitempty"`
}

func newAccountConsentView(c *models.AccountConsent) accountConsentView {
	return accountConsentView{
		ConsentID:      c.ConsentID,
		GrantedTo:      c.GrantedTo,
		Permissions:    c.Permissions,
		Status:         c.Status,
		Expiration:     c.ExpirationDateTime,
		Creation:       c.CreationDateTime,
		StatusUpdate:   c.StatusUpdateDateTime,
		LastAccessedAt: c.LastAccessedAt,
	}
}

type paymentConsentView struct {
	ConsentID       string               `json:"consent_id"`
	GrantedTo       string               `json:"granted_to"`
	Amount          decimal.Decimal      `json:"amount"`
	Currency        string               `json:"currency"`
	DebtorAccount   string               `json:"debtor_account"`
	CreditorAccount string               `json:"creditor_account"`
	CreditorName    string               `json:"creditor_name"`
	Reference       string               `json:"reference"`
	Status          models.ConsentStatus `json:"status"`
	Expiration      time.Time            `json:"expiration_date_time"`
	Creation        time.Time            `json:"creation_date_time"`
	UsedAt          *time.Time           `json:"used_at,omitempty"`
}

func newPaymentConsentView(c *models.PaymentConsent) paymentConsentView {
	return paymentConsentView{
		ConsentID:       c.ConsentID,
		GrantedTo:       c.GrantedTo,
		Amount:          c.Amount,
		Currency:        c.Currency,
		DebtorAccount:   c.DebtorAccount,
		CreditorAccount: c.CreditorAccount,
		CreditorName:    c.CreditorName,
		Reference:       c.Reference,
		Status:          c.Status,
		Expiration:      c.ExpirationDateTime,
		Creation:        c.CreationDateTime,
		UsedAt:          c.UsedAt,
	}
}

type productConsentView struct {
	ConsentID           string               `json:"consent_id"`
	GrantedTo           string               `json:"granted_to"`
	ReadAgreements      bool                 `json:"read_agreements"`
	OpenAgreements      bool                 `json:"open_agreements"`
	CloseAgreements     bool                 `json:"close_agreements"`
	AllowedProductTypes []string             `json:"allowed_product_types"`
	MaxAmount           decimal.Decimal      `json:"max_amount"`
	CurrentTotalOpened  decimal.Decimal      `json:"current_total_opened"`
	Status              models.ConsentStatus `json:"status"`
	Expiration          time.Time            `json:"expiration_date_time"`
	Creation            time.Time            `json:"creation_date_time"`
}

func newProductConsentView(c *models.ProductConsent) productConsentView {
	return productConsentView{
		ConsentID:           c.ConsentID,
		GrantedTo:           c.GrantedTo,
		ReadAgreements:      c.ReadAgreements,
		OpenAgreements:      c.OpenAgreements,
		CloseAgreements:     c.CloseAgreements,
		AllowedProductTypes: c.AllowedProductTypes,
		MaxAmount:           c.MaxAmount,
		CurrentTotalOpened:  c.CurrentTotalOpened,
		Status:              c.Status,
		Expiration:          c.ExpirationDateTime,
		Creation:            c.CreationDateTime,
	}
}

type vrpConsentView struct {
	ConsentID           string               `json:"consent_id"`
	AccountID           string               `json:"account_id"`
	GrantedTo           string               `json:"granted_to"`
	Status              models.ConsentStatus `json:"status"`
	MaxIndividualAmount decimal.Decimal      `json:"max_individual_amount"`
	MaxAmountPeriod     decimal.Decimal      `json:"max_amount_period"`
	PeriodType          string               `json:"period_type"`
	MaxPaymentsCount    int                  `json:"max_payments_count"`
	ValidFrom           time.Time            `json:"valid_from"`
	ValidTo             time.Time            `json:"valid_to"`
}

func newVRPConsentView(c *models.VRPConsent) vrpConsentView {
	return vrpConsentView{
		ConsentID:           c.ConsentID,
		AccountID:           ledger.ExternalAccountID(c.AccountID),
		GrantedTo:           c.GrantedTo,
		Status:              c.Status,
		MaxIndividualAmount: c.MaxIndividualAmount,
		MaxAmountPeriod:     c.MaxAmountPeriod,
		PeriodType:          c.PeriodType,
		MaxPaymentsCount:    c.MaxPaymentsCount,
		ValidFrom:           c.ValidFrom,
		ValidTo:             c.ValidTo,
	}
}

type offerConsentView struct {
	ConsentID   string               `json:"consent_id"`
	LeadID      string               `json:"lead_id,omitempty"`
	GrantedTo   string               `json:"granted_to"`
	Permissions []string             `json:"permissions"`
	Status      models.ConsentStatus `json:"status"`
	Expiration  time.Time            `json:"expiration_date_time"`
}

func newOfferConsentView(c *models.OfferConsent) offerConsentView {
	return offerConsentView{
		ConsentID:   c.ConsentID,
		LeadID:      c.LeadID,
		GrantedTo:   c.GrantedTo,
		Permissions: c.Permissions,
		Status:      c.Status,
		Expiration:  c.ExpirationDateTime,
	}
}

type paymentView struct {
	PaymentID          string          `json:"payment_id"`
	ConsentID          string          `json:"consent_id,omitempty"`
	AccountID          string          `json:"account_id"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	DestinationAccount string          `json:"destination_account"`
	DestinationBank    string          `json:"destination_bank,omitempty"`
	Description        string          `json:"description"`
	Status             string          `json:"status"`
	Creation           time.Time       `json:"creation_date_time"`
	StatusUpdate       time.Time       `json:"status_update_date_time"`
}

func newPaymentView(p *models.Payment) paymentView {
	return paymentView{
		PaymentID:          p.PaymentID,
		ConsentID:          p.PaymentConsentID,
		AccountID:          ledger.ExternalAccountID(p.AccountID),
		Amount:             p.Amount,
		Currency:           p.Currency,
		DestinationAccount: p.DestinationAccount,
		DestinationBank:    p.DestinationBank,
		Description:        p.Description,
		Status:             p.Status,
		Creation:           p.CreationDateTime,
		StatusUpdate:       p.StatusUpdateDateTime,
	}
}

type vrpPaymentView struct {
	PaymentID          string          `json:"payment_id"`
	ConsentID          string          `json:"consent_id"`
	AccountID          string          `json:"account_id"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	DestinationAccount string          `json:"destination_account"`
	DestinationBank    string          `json:"destination_bank,omitempty"`
	Description        string          `json:"description"`
	Status             string          `json:"status"`
	ExecutedAt         *time.Time      `json:"executed_at,omitempty"`
	Creation           time.Time       `json:"creation_date_time"`
}

func newVRPPaymentView(p *models.VRPPayment) vrpPaymentView {
	return vrpPaymentView{
		PaymentID:          p.PaymentID,
		ConsentID:          p.VRPConsentID,
		AccountID:          ledger.ExternalAccountID(p.AccountID),
		Amount:             p.Amount,
		Currency:           p.Currency,
		DestinationAccount: p.DestinationAccount,
		DestinationBank:    p.DestinationBank,
		Description:        p.Description,
		Status:             p.Status,
		ExecutedAt:         p.ExecutedAt,
		Creation:           p.CreationDateTime,
	}
}

type productView struct {
	ProductID    string          `json:"product_id"`
	ProductType  string          `json:"product_type"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	MinAmount    decimal.Decimal `json:"min_amount"`
	MaxAmount    decimal.Decimal `json:"max_amount"`
	TermMonths   int             `json:"term_months"`
}

func newProductView(p models.Product) productView {
	return productView{
		ProductID:    p.ProductID,
		ProductType:  p.ProductType,
		Name:         p.Name,
		Description:  p.Description,
		InterestRate: p.InterestRate,
		MinAmount:    p.MinAmount,
		MaxAmount:    p.MaxAmount,
		TermMonths:   p.TermMonths,
	}
}

type agreementView struct {
	AgreementID string          `json:"agreement_id"`
	AccountID   string          `json:"account_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     *time.Time      `json:"end_date,omitempty"`
}

func newAgreementView(a *models.ProductAgreement) agreementView {
	view := agreementView{
		AgreementID: a.AgreementID,
		Amount:      a.Amount,
		Status:      a.Status,
		StartDate:   a.StartDate,
		EndDate:     a.EndDate,
	}
	if a.AccountID != nil {
		view.AccountID = ledger.ExternalAccountID(*a.AccountID)
	}
	return view
}

type notificationView struct {
	ID        uint      `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	RelatedID string    `json:"related_id,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func newNotificationViews(items []models.Notification) []notificationView {
	views := make([]notificationView, 0, len(items))
	for _, n := range items {
		views = append(views, notificationView{
			ID:        n.ID,
			Type:      n.NotificationType,
			Title:     n.Title,
			Message:   n.Message,
			RelatedID: n.RelatedID,
			Status:    n.Status,
			CreatedAt: n.CreatedAt,
		})
	}
	return views
}
