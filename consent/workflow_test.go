package consent

import (
	"errors"
	"testing"

	"vbank/models"
)

func TestValidateTransition(t *testing.T) {
	valid := []struct {
		from, to models.ConsentStatus
	}{
		{models.ConsentAwaitingAuthorization, models.ConsentAuthorized},
		{models.ConsentAwaitingAuthorization, models.ConsentRejected},
		{models.ConsentAuthorized, models.ConsentConsumed},
		{models.ConsentAuthorized, models.ConsentRevoked},
		{models.ConsentAuthorized, models.ConsentExpired},
	}
	for _, tc := range valid {
		if err := ValidateTransition(tc.from, tc.to); err != nil {
			t.Fatalf("%s -> %s should be allowed: %v", tc.from, tc.to, err)
		}
	}

	invalid := []struct {
		from, to models.ConsentStatus
	}{
		{models.ConsentConsumed, models.ConsentAuthorized},
		{models.ConsentRevoked, models.ConsentAuthorized},
		{models.ConsentExpired, models.ConsentAuthorized},
		{models.ConsentRejected, models.ConsentAuthorized},
		{models.ConsentAwaitingAuthorization, models.ConsentConsumed},
		{models.ConsentConsumed, models.ConsentRevoked},
		{models.ConsentAuthorized, models.ConsentAuthorized},
		{models.ConsentRevoked, models.ConsentRevoked},
		{models.ConsentConsumed, models.ConsentConsumed},
	}
	for _, tc := range invalid {
		err := ValidateTransition(tc.from, tc.to)
		if err == nil {
			t.Fatalf("%s -> %s should be rejected", tc.from, tc.to)
		}
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s -> %s: error %v does not wrap ErrInvalidTransition", tc.from, tc.to, err)
		}
	}
}
