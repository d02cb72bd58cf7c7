package consent

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"vbank/models"
	"vbank/observability"
)

// Options controls registry behaviour that varies per deployment.
type Options struct {
	ConsentTTL        time.Duration
	PaymentConsentTTL time.Duration

	AutoApproveConsents        bool
	AutoApprovePaymentConsents bool
	AutoApproveProductConsents bool
}

// Registry owns the lifecycle of every consent kind.
type Registry struct {
	db   *gorm.DB
	opts Options
	now  func() time.Time
}

// NewRegistry constructs a registry over the given database handle.
func NewRegistry(db *gorm.DB, opts Options) *Registry {
	if opts.ConsentTTL <= 0 {
		opts.ConsentTTL = 365 * 24 * time.Hour
	}
	if opts.PaymentConsentTTL <= 0 {
		opts.PaymentConsentTTL = 90 * 24 * time.Hour
	}
	return &Registry{db: db, opts: opts, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (r *Registry) WithNow(now func() time.Time) *Registry {
	if now != nil {
		r.now = now
	}
	return r
}

// DB exposes the underlying handle for callers that join registry state into
// their own transactions.
func (r *Registry) DB() *gorm.DB {
	return r.db
}

func newID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// PeriodStart returns the beginning of the calendar period containing now.
// Weeks start on Monday.
func PeriodStart(periodType string, now time.Time) time.Time {
	switch periodType {
	case models.PeriodDay:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case models.PeriodWeek:
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		day := now.AddDate(0, 0, -(weekday - 1))
		return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, now.Location())
	case models.PeriodMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	case models.PeriodYear:
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
	default:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	}
}

// expired reports whether the expiration instant has been reached. A consent
// is live strictly before its expiration.
func expired(expiration time.Time, now time.Time) bool {
	return !now.Before(expiration)
}

func (r *Registry) notify(tx *gorm.DB, clientID uint, kind, title, message, relatedID string) error {
	note := models.Notification{
		ClientID:         clientID,
		NotificationType: kind,
		Title:            title,
		Message:          message,
		RelatedID:        relatedID,
		Status:           "unread",
		CreatedAt:        r.now(),
	}
	return tx.Create(&note).Error
}

func recordTransition(kind string, status models.ConsentStatus) {
	observability.Consents().RecordTransition(kind, string(status))
}

func recordCheck(kind string, err error) {
	outcome := "allowed"
	if err != nil {
		outcome = "denied"
	}
	observability.Consents().RecordCheck(kind, outcome)
}
