package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Account types supported by the ledger.
const (
	AccountTypeChecking = "checking"
	AccountTypeSavings  = "savings"
	AccountTypeDeposit  = "deposit"
	AccountTypeCard     = "card"
	AccountTypeLoan     = "loan"
)

// Account statuses.
const (
	AccountStatusActive = "active"
	AccountStatusClosed = "closed"
)

// Transaction directions.
const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

// Card statuses.
const (
	CardStatusActive  = "active"
	CardStatusBlocked = "blocked"
	CardStatusExpired = "expired"
)

// ConsentStatus represents a state in the consent workflow shared by all
// consent kinds.
type ConsentStatus string

// All consent workflow states.
const (
	ConsentAwaitingAuthorization ConsentStatus = "AwaitingAuthorization"
	ConsentAuthorized            ConsentStatus = "Authorized"
	ConsentRejected              ConsentStatus = "Rejected"
	ConsentRevoked               ConsentStatus = "Revoked"
	ConsentExpired               ConsentStatus = "Expired"
	ConsentConsumed              ConsentStatus = "Consumed"
)

// Account-access permission names.
const (
	PermReadAccountsDetail     = "ReadAccountsDetail"
	PermReadBalances           = "ReadBalances"
	PermReadTransactionsDetail = "ReadTransactionsDetail"
	PermReadCards              = "ReadCards"
	PermManageCards            = "ManageCards"
	PermManageAccounts         = "ManageAccounts"
)

// Payment statuses.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

// Interbank transfer statuses.
const (
	TransferStatusProcessing = "processing"
	TransferStatusCompleted  = "completed"
	TransferStatusFailed     = "failed"
)

// Product types offered by the catalog.
const (
	ProductTypeDeposit    = "deposit"
	ProductTypeLoan       = "loan"
	ProductTypeCard       = "card"
	ProductTypeCreditCard = "credit_card"
)

// Agreement statuses.
const (
	AgreementStatusActive    = "active"
	AgreementStatusClosed    = "closed"
	AgreementStatusDefaulted = "defaulted"
)

// VRP period kinds.
const (
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
	PeriodYear  = "year"
)

// StringList stores a set of strings as a JSON column so the same schema
// works on postgres and the sqlite test driver.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]string)(l))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(l))
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
}

// Contains reports whether the list holds the given entry.
func (l StringList) Contains(entry string) bool {
	for _, e := range l {
		if e == entry {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every required entry is present.
func (l StringList) ContainsAll(required []string) bool {
	for _, r := range required {
		if !l.Contains(r) {
			return false
		}
	}
	return true
}

// Institution holds API credentials for a third-party bank or team.
type Institution struct {
	ID           uint   `gorm:"primaryKey"`
	ClientID     string `gorm:"uniqueIndex;size:100"`
	ClientSecret string `gorm:"size:255"`
	Name         string `gorm:"size:255"`
	IsActive     bool   `gorm:"default:true"`
	CreatedAt    time.Time
}

// Client is a natural or legal person holding accounts at this bank.
type Client struct {
	ID            uint   `gorm:"primaryKey"`
	PersonID      string `gorm:"uniqueIndex;size:100"`
	ClientType    string `gorm:"size:20"`
	FullName      string `gorm:"size:255"`
	Segment       string `gorm:"size:50"`
	BirthYear     int
	MonthlyIncome decimal.Decimal `gorm:"type:numeric(15,2)"`
	IsActive      bool            `gorm:"default:true"`
	CreatedAt     time.Time

	Accounts []Account
}

// Account is a ledger account owned by exactly one client.
type Account struct {
	ID            uint            `gorm:"primaryKey"`
	ClientID      uint            `gorm:"index;not null"`
	AccountNumber string          `gorm:"uniqueIndex;size:20"`
	AccountType   string          `gorm:"size:50"`
	Balance       decimal.Decimal `gorm:"type:numeric(15,2)"`
	Currency      string          `gorm:"size:3;default:RUB"`
	Status        string          `gorm:"size:20;default:active"`
	OpenedAt      time.Time

	Transactions []Transaction
}

// Transaction is an immutable ledger entry; rows are never updated.
type Transaction struct {
	ID              uint            `gorm:"primaryKey"`
	AccountID       uint            `gorm:"index;not null"`
	TransactionID   string          `gorm:"uniqueIndex;size:100"`
	Amount          decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	Direction       string          `gorm:"size:10"`
	Counterparty    string          `gorm:"size:255"`
	Description     string          `gorm:"type:text"`
	Merchant        string          `gorm:"size:255"`
	CardID          *uint           `gorm:"index"`
	TransactionDate time.Time       `gorm:"index"`
	CreatedAt       time.Time
}

// Card is a spending capability bound to one account.
type Card struct {
	ID           uint   `gorm:"primaryKey"`
	CardID       string `gorm:"uniqueIndex;size:100"`
	AccountID    uint   `gorm:"index;not null"`
	ClientID     uint   `gorm:"index;not null"`
	CardNumber   string `gorm:"size:16"`
	CardType     string `gorm:"size:20"`
	CardName     string `gorm:"size:100"`
	HolderName   string `gorm:"size:255"`
	ExpiryMonth  int
	ExpiryYear   int
	DailyLimit   decimal.Decimal `gorm:"type:numeric(15,2)"`
	MonthlyLimit decimal.Decimal `gorm:"type:numeric(15,2)"`
	Status       string          `gorm:"size:20;default:active"`
	IssuedAt     time.Time
}

// Notification is appended for a client when a consent needs manual action.
type Notification struct {
	ID               uint   `gorm:"primaryKey"`
	ClientID         uint   `gorm:"index;not null"`
	NotificationType string `gorm:"size:50"`
	Title            string `gorm:"size:255"`
	Message          string `gorm:"type:text"`
	RelatedID        string `gorm:"size:100"`
	Status           string `gorm:"size:20;default:unread"`
	CreatedAt        time.Time
}

// AccountConsentRequest records who asked for account access, for what, and why.
type AccountConsentRequest struct {
	ID              uint       `gorm:"primaryKey"`
	RequestID       string     `gorm:"uniqueIndex;size:100"`
	ClientID        uint       `gorm:"index;not null"`
	Institution     string     `gorm:"size:100"`
	InstitutionName string     `gorm:"size:255"`
	Permissions     StringList `gorm:"type:text"`
	Reason          string     `gorm:"type:text"`
	Status          ConsentStatus `gorm:"size:32;index"`
	CreatedAt       time.Time
	RespondedAt     *time.Time
}

// AccountConsent is an authorized account-access grant.
type AccountConsent struct {
	ID                   uint          `gorm:"primaryKey"`
	ConsentID            string        `gorm:"uniqueIndex;size:100"`
	RequestID            uint          `gorm:"index"`
	ClientID             uint          `gorm:"index;not null"`
	GrantedTo            string        `gorm:"size:100;index;not null"`
	Permissions          StringList    `gorm:"type:text"`
	Status               ConsentStatus `gorm:"size:32;index"`
	ExpirationDateTime   time.Time
	CreationDateTime     time.Time
	StatusUpdateDateTime time.Time
	SignedAt             time.Time
	RevokedAt            *time.Time
	LastAccessedAt       *time.Time
}

// PaymentConsentRequest carries the exact payment parameters to be approved.
type PaymentConsentRequest struct {
	ID              uint            `gorm:"primaryKey"`
	RequestID       string          `gorm:"uniqueIndex;size:100"`
	ClientID        uint            `gorm:"index;not null"`
	Institution     string          `gorm:"size:100"`
	InstitutionName string          `gorm:"size:255"`
	Amount          decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	Currency        string          `gorm:"size:3;default:RUB"`
	DebtorAccount   string          `gorm:"size:255"`
	CreditorAccount string          `gorm:"size:255"`
	CreditorName    string          `gorm:"size:255"`
	Reference       string          `gorm:"size:255"`
	Reason          string          `gorm:"type:text"`
	Status          ConsentStatus   `gorm:"size:32;index"`
	CreatedAt       time.Time
	RespondedAt     *time.Time
}

// PaymentConsent is a single-shot payment authorization; its parameters are
// immutable after signing.
type PaymentConsent struct {
	ID                   uint            `gorm:"primaryKey"`
	ConsentID            string          `gorm:"uniqueIndex;size:100"`
	RequestID            uint            `gorm:"index"`
	ClientID             uint            `gorm:"index;not null"`
	GrantedTo            string          `gorm:"size:100;index;not null"`
	Amount               decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	Currency             string          `gorm:"size:3;default:RUB"`
	DebtorAccount        string          `gorm:"size:255"`
	CreditorAccount      string          `gorm:"size:255"`
	CreditorName         string          `gorm:"size:255"`
	Reference            string          `gorm:"size:255"`
	Status               ConsentStatus   `gorm:"size:32;index"`
	ExpirationDateTime   time.Time
	CreationDateTime     time.Time
	StatusUpdateDateTime time.Time
	SignedAt             time.Time
	UsedAt               *time.Time
	RevokedAt            *time.Time
}

// ProductConsentRequest asks for agreement-management capabilities.
type ProductConsentRequest struct {
	ID                  uint       `gorm:"primaryKey"`
	RequestID           string     `gorm:"uniqueIndex;size:100"`
	ClientID            uint       `gorm:"index;not null"`
	Institution         string     `gorm:"size:100"`
	InstitutionName     string     `gorm:"size:255"`
	ReadAgreements      bool
	OpenAgreements      bool
	CloseAgreements     bool
	AllowedProductTypes StringList      `gorm:"type:text"`
	MaxAmount           decimal.Decimal `gorm:"type:numeric(15,2)"`
	ValidUntil          *time.Time
	Reason              string        `gorm:"type:text"`
	Status              ConsentStatus `gorm:"size:32;index"`
	CreatedAt           time.Time
	RespondedAt         *time.Time
}

// ProductConsent grants an institution agreement-management capabilities with
// a cumulative opening cap.
type ProductConsent struct {
	ID                   uint   `gorm:"primaryKey"`
	ConsentID            string `gorm:"uniqueIndex;size:100"`
	RequestID            uint   `gorm:"index"`
	ClientID             uint   `gorm:"index;not null"`
	GrantedTo            string `gorm:"size:100;index;not null"`
	ReadAgreements       bool
	OpenAgreements       bool
	CloseAgreements      bool
	AllowedProductTypes  StringList      `gorm:"type:text"`
	MaxAmount            decimal.Decimal `gorm:"type:numeric(15,2)"`
	CurrentTotalOpened   decimal.Decimal `gorm:"type:numeric(15,2)"`
	Status               ConsentStatus   `gorm:"size:32;index"`
	ExpirationDateTime   time.Time
	CreationDateTime     time.Time
	StatusUpdateDateTime time.Time
	SignedAt             time.Time
	RevokedAt            *time.Time
	LastAccessedAt       *time.Time
}

// VRPConsent is a variable-recurring-payment mandate with four numeric guards.
type VRPConsent struct {
	ID                  uint            `gorm:"primaryKey"`
	ConsentID           string          `gorm:"uniqueIndex;size:100"`
	RequestID           uint            `gorm:"index"`
	ClientID            uint            `gorm:"index;not null"`
	AccountID           uint            `gorm:"index;not null"`
	GrantedTo           string          `gorm:"size:100;index"`
	Status              ConsentStatus   `gorm:"size:32;index"`
	MaxIndividualAmount decimal.Decimal `gorm:"type:numeric(15,2)"`
	MaxAmountPeriod     decimal.Decimal `gorm:"type:numeric(15,2)"`
	PeriodType          string          `gorm:"size:20"`
	MaxPaymentsCount    int
	ValidFrom           time.Time
	ValidTo             time.Time
	CreatedAt           time.Time
	AuthorizedAt        *time.Time
	RevokedAt           *time.Time
	LastAccessedAt      *time.Time
}

// OfferConsent permits personalised product offers for a lead or client.
type OfferConsent struct {
	ID                   uint          `gorm:"primaryKey"`
	ConsentID            string        `gorm:"uniqueIndex;size:100"`
	RequestID            uint          `gorm:"index"`
	LeadID               string        `gorm:"size:100;index"`
	ClientID             *uint         `gorm:"index"`
	GrantedTo            string        `gorm:"size:100;index"`
	Permissions          StringList    `gorm:"type:text"`
	Status               ConsentStatus `gorm:"size:32;index"`
	ExpirationDateTime   time.Time
	CreationDateTime     time.Time
	StatusUpdateDateTime time.Time
	RevokedAt            *time.Time
}

// Payment is the record of one single-shot money movement.
type Payment struct {
	ID                   uint            `gorm:"primaryKey"`
	PaymentID            string          `gorm:"uniqueIndex;size:100"`
	PaymentConsentID     string          `gorm:"size:100;index"`
	AccountID            uint            `gorm:"index;not null"`
	Amount               decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	Currency             string          `gorm:"size:3;default:RUB"`
	DestinationAccount   string          `gorm:"size:255"`
	DestinationBank      string          `gorm:"size:100"`
	Description          string          `gorm:"type:text"`
	Status               string          `gorm:"size:50;index"`
	CreationDateTime     time.Time
	StatusUpdateDateTime time.Time
}

// VRPPayment is a payment executed under a VRP mandate.
type VRPPayment struct {
	ID                   uint            `gorm:"primaryKey"`
	PaymentID            string          `gorm:"uniqueIndex;size:100"`
	VRPConsentID         string          `gorm:"column:vrp_consent_id;size:100;index;not null"`
	AccountID            uint            `gorm:"index;not null"`
	Amount               decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	Currency             string          `gorm:"size:3;default:RUB"`
	DestinationAccount   string          `gorm:"size:255;not null"`
	DestinationBank      string          `gorm:"size:100"`
	Description          string          `gorm:"type:text"`
	Status               string          `gorm:"size:50;index"`
	IsRecurring          bool            `gorm:"default:true"`
	RecurrenceFrequency  string          `gorm:"size:20"`
	NextPaymentDate      *time.Time
	CreationDateTime     time.Time
	StatusUpdateDateTime time.Time
	ExecutedAt           *time.Time
}

// InterbankTransfer tracks the capital leg of an inter-bank payment.
type InterbankTransfer struct {
	ID          uint            `gorm:"primaryKey"`
	TransferID  string          `gorm:"uniqueIndex;size:100"`
	PaymentID   string          `gorm:"size:100;index"`
	FromBank    string          `gorm:"size:100;not null"`
	ToBank      string          `gorm:"size:100;not null"`
	Amount      decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	Status      string          `gorm:"size:50"`
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// BankCapital is the per-bank own-funds row; exactly one row per bank code.
type BankCapital struct {
	ID             uint            `gorm:"primaryKey"`
	BankCode       string          `gorm:"uniqueIndex;size:100;not null"`
	Capital        decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	InitialCapital decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	TotalDeposits  decimal.Decimal `gorm:"type:numeric(15,2)"`
	TotalLoans     decimal.Decimal `gorm:"type:numeric(15,2)"`
	UpdatedAt      time.Time
}

// Product is a catalog entry clients can open agreements against.
type Product struct {
	ID           uint            `gorm:"primaryKey"`
	ProductID    string          `gorm:"uniqueIndex;size:100"`
	ProductType  string          `gorm:"size:50;not null"`
	Name         string          `gorm:"size:255;not null"`
	Description  string          `gorm:"type:text"`
	InterestRate decimal.Decimal `gorm:"type:numeric(5,2)"`
	MinAmount    decimal.Decimal `gorm:"type:numeric(15,2)"`
	MaxAmount    decimal.Decimal `gorm:"type:numeric(15,2)"`
	TermMonths   int
	IsActive     bool `gorm:"default:true"`
	CreatedAt    time.Time
}

// ProductAgreement binds a client to a product and its derived account.
type ProductAgreement struct {
	ID          uint            `gorm:"primaryKey"`
	AgreementID string          `gorm:"uniqueIndex;size:100"`
	ClientID    uint            `gorm:"index;not null"`
	ProductID   uint            `gorm:"index;not null"`
	AccountID   *uint           `gorm:"index"`
	Amount      decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	Status      string          `gorm:"size:50;index"`
	StartDate   time.Time
	EndDate     *time.Time
	CreatedAt   time.Time
}

// CustomerLead is a potential client captured by marketing.
type CustomerLead struct {
	ID                 uint       `gorm:"primaryKey"`
	LeadID             string     `gorm:"uniqueIndex;size:100"`
	Status             string     `gorm:"size:50;default:pending"`
	FullName           string     `gorm:"size:255"`
	Phone              string     `gorm:"size:50"`
	Email              string     `gorm:"size:255"`
	InterestedProducts StringList `gorm:"type:text"`
	Source             string     `gorm:"size:100"`
	Notes              string     `gorm:"type:text"`
	EstimatedIncome    decimal.Decimal `gorm:"type:numeric(15,2)"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ConvertedClientID  *uint `gorm:"index"`
}

// ProductOffer is a personalised offer sent to a lead.
type ProductOffer struct {
	ID                     uint            `gorm:"primaryKey"`
	OfferID                string          `gorm:"uniqueIndex;size:100"`
	LeadID                 string          `gorm:"size:100;index"`
	ProductID              uint            `gorm:"index;not null"`
	PersonalizedRate       decimal.Decimal `gorm:"type:numeric(5,2)"`
	PersonalizedAmount     decimal.Decimal `gorm:"type:numeric(15,2)"`
	PersonalizedTermMonths int
	Status                 string `gorm:"size:50;default:pending"`
	ValidUntil             *time.Time
	RejectionReason        string `gorm:"type:text"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
	RespondedAt            *time.Time
}

// ProductApplication is a client's application for a catalog product.
type ProductApplication struct {
	ID                  uint            `gorm:"primaryKey"`
	ApplicationID       string          `gorm:"uniqueIndex;size:100"`
	ClientID            uint            `gorm:"index;not null"`
	ProductID           uint            `gorm:"index;not null"`
	OfferID             string          `gorm:"size:100"`
	RequestedAmount     decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	RequestedTermMonths int
	Status              string          `gorm:"size:50;default:pending;index"`
	Decision            string          `gorm:"size:50"`
	DecisionReason      string          `gorm:"type:text"`
	ApprovedAmount      decimal.Decimal `gorm:"type:numeric(15,2)"`
	ApprovedRate        decimal.Decimal `gorm:"type:numeric(5,2)"`
	SubmittedAt         time.Time
	DecisionAt          *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IdempotencyKey stores request idempotency metadata.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:128"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Institution{},
		&Client{},
		&Account{},
		&Transaction{},
		&Card{},
		&Notification{},
		&AccountConsentRequest{},
		&AccountConsent{},
		&PaymentConsentRequest{},
		&PaymentConsent{},
		&ProductConsentRequest{},
		&ProductConsent{},
		&VRPConsent{},
		&OfferConsent{},
		&Payment{},
		&VRPPayment{},
		&InterbankTransfer{},
		&BankCapital{},
		&Product{},
		&ProductAgreement{},
		&CustomerLead{},
		&ProductOffer{},
		&ProductApplication{},
		&IdempotencyKey{},
	)
}
