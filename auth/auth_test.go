package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	svc, err := NewService("test-secret", "vbank", time.Hour)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	token, expires, err := svc.Issue("demo-1", TypeClient)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !expires.After(time.Now()) {
		t.Fatalf("expiry not in the future: %v", expires)
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "demo-1" {
		t.Fatalf("subject = %q, want demo-1", claims.Subject)
	}
	if claims.Type != TypeClient {
		t.Fatalf("type = %q, want client", claims.Type)
	}
}

func TestVerifyRejectsForeignIssuer(t *testing.T) {
	issuer, err := NewService("test-secret", "other-bank", time.Hour)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	verifier, err := NewService("test-secret", "vbank", time.Hour)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	token, _, err := issuer.Issue("demo-1", TypeClient)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Fatal("expected issuer mismatch error")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	svc, err := NewService("test-secret", "vbank", time.Hour)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return issued })

	token, _, err := svc.Issue("demo-1", TypeClient)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	svc.WithNow(func() time.Time { return issued.Add(2 * time.Hour) })
	if _, err := svc.Verify(token); err == nil {
		t.Fatal("expected expiry error")
	}
}

func TestIssueRejectsUnknownType(t *testing.T) {
	svc, err := NewService("test-secret", "vbank", time.Hour)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, _, err := svc.Issue("demo-1", TokenType("admin")); err == nil {
		t.Fatal("expected unsupported type error")
	}
}

func TestMiddlewareAndRequireType(t *testing.T) {
	svc, err := NewService("test-secret", "vbank", time.Hour)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	token, _, err := svc.Issue("inst-1", TypeInstitution)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := FromContext(r.Context())
		if err != nil {
			t.Fatalf("claims missing in context: %v", err)
		}
		if claims.Subject != "inst-1" {
			t.Fatalf("subject = %q", claims.Subject)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	handler := svc.Middleware(RequireType(TypeInstitution)(inner))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	staffOnly := svc.Middleware(RequireType(TypeStaff)(inner))
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	staffOnly.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong token class, got %d", rec.Code)
	}
}
