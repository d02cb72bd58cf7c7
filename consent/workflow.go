package consent

import (
	"fmt"

	"vbank/models"
)

var allowedTransitions = map[models.ConsentStatus][]models.ConsentStatus{
	models.ConsentAwaitingAuthorization: {models.ConsentAuthorized, models.ConsentRejected},
	models.ConsentAuthorized:            {models.ConsentConsumed, models.ConsentRevoked, models.ConsentExpired},
}

// ValidateTransition ensures the transition follows the defined state machine.
// Rejected, Revoked, Expired and Consumed are terminal. A state never
// transitions to itself, so repeating a terminal action fails here.
func ValidateTransition(current, next models.ConsentStatus) error {
	allowed, ok := allowedTransitions[current]
	if !ok {
		return fmt.Errorf("%w: no transitions allowed from %s", ErrInvalidTransition, current)
	}
	for _, status := range allowed {
		if status == next {
			return nil
		}
	}
	return fmt.Errorf("%w: from %s to %s", ErrInvalidTransition, current, next)
}
