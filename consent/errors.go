package consent

import "errors"

// Sentinel errors surfaced by the registry and the mediator. The server layer
// maps them onto stable error codes.
var (
	ErrNotFound          = errors.New("consent not found")
	ErrRequestNotFound   = errors.New("consent request not found")
	ErrAlreadyResponded  = errors.New("consent request already responded to")
	ErrConsentRequired   = errors.New("consent required")
	ErrInvalidConsent    = errors.New("consent is not authorized")
	ErrConsentMismatch   = errors.New("consent parameters do not match the request")
	ErrInvalidScope      = errors.New("consent does not cover the requested permission")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotGrantor        = errors.New("only the granting client may respond")
	ErrForbidden         = errors.New("operation not permitted for this subject")
	ErrUnknownSubject    = errors.New("token subject does not resolve to a known party")
	ErrLimitExceeded     = errors.New("consent limit exceeded")
	ErrOutsideWindow     = errors.New("outside the consent validity window")
)
