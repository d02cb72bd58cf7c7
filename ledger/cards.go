package ledger

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"vbank/models"
)

// Card sentinel errors.
var (
	ErrCardNotFound      = errors.New("card not found")
	ErrInvalidCardStatus = errors.New("invalid card status")
)

// IssueCardParams describe a card issuance.
type IssueCardParams struct {
	AccountID    uint
	ClientID     uint
	CardType     string
	CardName     string
	HolderName   string
	DailyLimit   decimal.Decimal
	MonthlyLimit decimal.Decimal
}

// IssueCard mints a card over an active account. The number is Luhn-valid
// with the bank's BIN prefix and the card expires after four years.
func (l *Ledger) IssueCard(bin string, params IssueCardParams) (*models.Card, error) {
	account, err := l.GetAccount(params.AccountID)
	if err != nil {
		return nil, err
	}
	if account.Status != models.AccountStatusActive {
		return nil, ErrAccountClosed
	}
	if account.ClientID != params.ClientID {
		return nil, ErrAccountNotFound
	}
	if params.CardType == "" {
		params.CardType = "debit"
	}
	if params.DailyLimit.IsZero() {
		params.DailyLimit = decimal.NewFromInt(100000)
	}
	if params.MonthlyLimit.IsZero() {
		params.MonthlyLimit = decimal.NewFromInt(1000000)
	}
	now := l.now()
	expiry := now.AddDate(4, 0, 0)
	card := models.Card{
		CardID:       "card-" + uuid.NewString(),
		AccountID:    account.ID,
		ClientID:     params.ClientID,
		CardNumber:   NewCardNumber(bin),
		CardType:     params.CardType,
		CardName:     params.CardName,
		HolderName:   params.HolderName,
		ExpiryMonth:  int(expiry.Month()),
		ExpiryYear:   expiry.Year(),
		DailyLimit:   params.DailyLimit,
		MonthlyLimit: params.MonthlyLimit,
		Status:       models.CardStatusActive,
		IssuedAt:     now,
	}
	if err := l.db.Create(&card).Error; err != nil {
		return nil, err
	}
	return &card, nil
}

// ListCards returns a client's cards, oldest first.
func (l *Ledger) ListCards(clientID uint) ([]models.Card, error) {
	var cards []models.Card
	if err := l.db.Where("client_id = ?", clientID).Order("id").Find(&cards).Error; err != nil {
		return nil, err
	}
	return cards, nil
}

// GetCard fetches a card by external id.
func (l *Ledger) GetCard(cardID string) (*models.Card, error) {
	var card models.Card
	if err := l.db.First(&card, "card_id = ?", cardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

// UpdateCardStatus moves a card between active and blocked.
func (l *Ledger) UpdateCardStatus(cardID, status string) (*models.Card, error) {
	if status != models.CardStatusActive && status != models.CardStatusBlocked {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCardStatus, status)
	}
	card, err := l.GetCard(cardID)
	if err != nil {
		return nil, err
	}
	if card.Status == models.CardStatusExpired {
		return nil, fmt.Errorf("%w: card has expired", ErrInvalidCardStatus)
	}
	card.Status = status
	if err := l.db.Save(card).Error; err != nil {
		return nil, err
	}
	return card, nil
}

// UpdateCardLimits replaces the card's spending limits.
func (l *Ledger) UpdateCardLimits(cardID string, daily, monthly decimal.Decimal) (*models.Card, error) {
	if daily.IsNegative() || monthly.IsNegative() {
		return nil, fmt.Errorf("%w: limits must not be negative", ErrInvalidCardStatus)
	}
	card, err := l.GetCard(cardID)
	if err != nil {
		return nil, err
	}
	if !daily.IsZero() {
		card.DailyLimit = daily
	}
	if !monthly.IsZero() {
		card.MonthlyLimit = monthly
	}
	if err := l.db.Save(card).Error; err != nil {
		return nil, err
	}
	return card, nil
}

// NewCardNumber builds a Luhn-valid 16-digit PAN with the given BIN prefix.
func NewCardNumber(bin string) string {
	var sb strings.Builder
	sb.WriteString(bin)
	for sb.Len() < 15 {
		sb.WriteByte(byte('0' + rand.Intn(10)))
	}
	digits := sb.String()
	return digits + string(byte('0'+luhnCheckDigit(digits)))
}

// luhnCheckDigit computes the digit that makes the number pass the Luhn
// check.
func luhnCheckDigit(digits string) int {
	sum := 0
	double := true
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10
}

// ValidLuhn reports whether the number passes the Luhn check.
func ValidLuhn(number string) bool {
	if len(number) < 2 {
		return false
	}
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		if number[i] < '0' || number[i] > '9' {
			return false
		}
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
