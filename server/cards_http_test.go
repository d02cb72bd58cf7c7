package server

import (
	"net/http"
	"strings"
	"testing"

	"vbank/ledger"
	"vbank/models"
)

func TestCardNumbersMaskedForInstitutions(t *testing.T) {
	e := setupTestServer(t)
	_, account := e.createClient(t, "demo-1", 5000)
	clientToken := e.login(t, "demo-1")

	rec := e.do(t, http.MethodPost, "/cards", clientToken, map[string]any{
		"account_id": ledger.ExternalAccountID(account.ID),
		"card_name":  "Everyday",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("issue card: status %d body %s", rec.Code, rec.Body.String())
	}
	var issued cardView
	decodeEnvelope(t, rec, &issued)
	if len(issued.CardNumber) != 16 || strings.Contains(issued.CardNumber, "*") {
		t.Fatalf("owner must see the full PAN, got %q", issued.CardNumber)
	}
	if issued.HolderName != "Client demo-1" {
		t.Fatalf("holder defaulted to %q", issued.HolderName)
	}

	inst := e.createInstitution(t, "inst-a")
	instToken := e.bankToken(t, inst)
	instHeaders := map[string]string{"X-Requesting-Institution": inst.ClientID}
	rec = e.do(t, http.MethodPost, "/account-consents/request", instToken, map[string]any{
		"client_id":   "demo-1",
		"permissions": []string{models.PermReadCards},
	}, instHeaders)
	if rec.Code != http.StatusCreated {
		t.Fatalf("consent request: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/cards?client_id=demo-1", instToken, nil, instHeaders)
	if rec.Code != http.StatusOK {
		t.Fatalf("institution card read: status %d body %s", rec.Code, rec.Body.String())
	}
	var cards []cardView
	decodeEnvelope(t, rec, &cards)
	if len(cards) != 1 {
		t.Fatalf("expected 1 card, got %d", len(cards))
	}
	masked := cards[0].CardNumber
	if !strings.Contains(masked, "*") {
		t.Fatalf("institution must see a masked PAN, got %q", masked)
	}
	if !strings.HasSuffix(masked, issued.CardNumber[len(issued.CardNumber)-4:]) {
		t.Fatalf("mask must keep the last four digits: %q vs %q", masked, issued.CardNumber)
	}

	// The client still sees the full number.
	rec = e.do(t, http.MethodGet, "/cards/"+issued.CardID, clientToken, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("client card read: status %d", rec.Code)
	}
	var own cardView
	decodeEnvelope(t, rec, &own)
	if own.CardNumber != issued.CardNumber {
		t.Fatalf("owner read returned %q, want the full PAN", own.CardNumber)
	}
}

func TestBlockAndUnblockCardOverHTTP(t *testing.T) {
	e := setupTestServer(t)
	_, account := e.createClient(t, "demo-1", 0)
	token := e.login(t, "demo-1")

	rec := e.do(t, http.MethodPost, "/cards", token, map[string]any{
		"account_id": ledger.ExternalAccountID(account.ID),
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("issue card: status %d", rec.Code)
	}
	var issued cardView
	decodeEnvelope(t, rec, &issued)

	rec = e.do(t, http.MethodPut, "/cards/"+issued.CardID+"/status", token, map[string]string{"status": models.CardStatusBlocked}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("block: status %d body %s", rec.Code, rec.Body.String())
	}
	var blocked cardView
	decodeEnvelope(t, rec, &blocked)
	if blocked.Status != models.CardStatusBlocked {
		t.Fatalf("status = %q", blocked.Status)
	}

	rec = e.do(t, http.MethodPut, "/cards/"+issued.CardID+"/status", token, map[string]string{"status": "stolen"}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("bogus status: got %d, want 409", rec.Code)
	}
}
