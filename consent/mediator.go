package consent

import (
	"errors"

	"gorm.io/gorm"

	"vbank/auth"
	"vbank/models"
)

// DecisionKind tags the outcome of a mediation.
type DecisionKind int

// Possible outcomes. Handlers switch on the kind exactly once per request;
// token-type conditionals do not appear anywhere else.
const (
	DecideDeny DecisionKind = iota
	DecideClient
	DecideInstitution
	DecideStaff
)

// Decision is the mediator's answer for one operation. For institution
// decisions the matched consent rides along so handlers can echo its id.
type Decision struct {
	Kind           DecisionKind
	Actor          *models.Client
	AccountConsent *models.AccountConsent
	ProductConsent *models.ProductConsent
	Err            error
}

// Allowed reports whether the operation may proceed.
func (d Decision) Allowed() bool {
	return d.Kind != DecideDeny
}

func deny(err error) Decision {
	return Decision{Kind: DecideDeny, Err: err}
}

// Mediator decides, per call, whether a subject may perform an operation on a
// client's resources. Clients reach their own data, institutions need a live
// consent with the right scope, staff pass for back-office operations.
type Mediator struct {
	db       *gorm.DB
	registry *Registry
}

// NewMediator constructs a mediator sharing the registry's database handle.
func NewMediator(registry *Registry) *Mediator {
	return &Mediator{db: registry.DB(), registry: registry}
}

// ResolveClient maps a client token subject (person id) to the client row.
func (m *Mediator) ResolveClient(subject string) (*models.Client, error) {
	var client models.Client
	if err := m.db.First(&client, "person_id = ?", subject).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownSubject
		}
		return nil, err
	}
	return &client, nil
}

// AccountAccess mediates a read or management operation against the owner's
// accounts. The permissions are the scopes the operation needs. A non-empty
// consentID pins institution checks to that exact consent; client and staff
// decisions ignore it.
func (m *Mediator) AccountAccess(claims *auth.Claims, owner *models.Client, consentID string, permissions ...string) Decision {
	switch claims.Type {
	case auth.TypeStaff:
		return Decision{Kind: DecideStaff}
	case auth.TypeClient:
		actor, err := m.ResolveClient(claims.Subject)
		if err != nil {
			return deny(err)
		}
		if actor.ID != owner.ID {
			return deny(ErrForbidden)
		}
		return Decision{Kind: DecideClient, Actor: actor}
	case auth.TypeInstitution:
		granted, err := m.registry.CheckAccountAccess(claims.Subject, owner.ID, consentID, permissions)
		if err != nil {
			return deny(err)
		}
		return Decision{Kind: DecideInstitution, AccountConsent: granted}
	default:
		return deny(ErrForbidden)
	}
}

// ProductAccess mediates an agreement operation needing the given capability
// over the given product type. A non-empty consentID pins institution checks
// to that exact consent.
func (m *Mediator) ProductAccess(claims *auth.Claims, owner *models.Client, consentID, capability, productType string) Decision {
	switch claims.Type {
	case auth.TypeStaff:
		return Decision{Kind: DecideStaff}
	case auth.TypeClient:
		actor, err := m.ResolveClient(claims.Subject)
		if err != nil {
			return deny(err)
		}
		if actor.ID != owner.ID {
			return deny(ErrForbidden)
		}
		return Decision{Kind: DecideClient, Actor: actor}
	case auth.TypeInstitution:
		granted, err := m.registry.CheckProductAccess(claims.Subject, owner.ID, consentID, capability, productType)
		if err != nil {
			return deny(err)
		}
		return Decision{Kind: DecideInstitution, ProductConsent: granted}
	default:
		return deny(ErrForbidden)
	}
}

// SelfOnly mediates operations that only the owning client (or staff) may
// perform, such as signing a consent request or closing an account.
func (m *Mediator) SelfOnly(claims *auth.Claims, owner *models.Client) Decision {
	switch claims.Type {
	case auth.TypeStaff:
		return Decision{Kind: DecideStaff}
	case auth.TypeClient:
		actor, err := m.ResolveClient(claims.Subject)
		if err != nil {
			return deny(err)
		}
		if actor.ID != owner.ID {
			return deny(ErrForbidden)
		}
		return Decision{Kind: DecideClient, Actor: actor}
	default:
		return deny(ErrForbidden)
	}
}
