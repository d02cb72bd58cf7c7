package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"vbank/auth"
	"vbank/models"
)

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Subject     string    `json:"subject"`
}

// Login exchanges a sandbox client identity for a client token.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PersonID string `json:"person_id"`
	}
	if err := decodeBody(r, &req); err != nil || req.PersonID == "" {
		s.writeValidationError(w, "person_id is required")
		return
	}
	client, err := s.Ledger.GetClientByPersonID(req.PersonID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !client.IsActive {
		s.writeError(w, http.StatusForbidden, "FORBIDDEN", "client is deactivated", "")
		return
	}
	token, expires, err := s.Auth.Issue(client.PersonID, auth.TypeClient)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expires,
		Subject:     client.PersonID,
	})
}

// BankToken exchanges institution credentials for an institution token.
func (s *Server) BankToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := decodeBody(r, &req); err != nil || req.ClientID == "" || req.ClientSecret == "" {
		s.writeValidationError(w, "client_id and client_secret are required")
		return
	}
	var inst models.Institution
	if err := s.DB.First(&inst, "client_id = ?", req.ClientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "unknown institution", "")
			return
		}
		s.writeDomainError(w, err)
		return
	}
	if !inst.IsActive || inst.ClientSecret != req.ClientSecret {
		s.writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "credentials rejected", "")
		return
	}
	token, expires, err := s.Auth.Issue(inst.ClientID, auth.TypeInstitution)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expires,
		Subject:     inst.ClientID,
	})
}

// StaffLogin exchanges the shared staff secret for a staff token.
func (s *Server) StaffLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StaffID string `json:"staff_id"`
		Secret  string `json:"secret"`
	}
	if err := decodeBody(r, &req); err != nil || req.Secret == "" {
		s.writeValidationError(w, "secret is required")
		return
	}
	if req.Secret != s.StaffSecret {
		s.writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "credentials rejected", "")
		return
	}
	if req.StaffID == "" {
		req.StaffID = "staff"
	}
	token, expires, err := s.Auth.Issue(req.StaffID, auth.TypeStaff)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeData(w, r, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expires,
		Subject:     req.StaffID,
	})
}

// RegisterInstitution provisions API credentials for a third-party team plus
// a batch of sandbox clients with funded checking accounts to test against.
func (s *Server) RegisterInstitution(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil || req.Name == "" {
		s.writeValidationError(w, "name is required")
		return
	}

	inst := models.Institution{
		ClientID:     "inst-" + uuid.NewString()[:8],
		ClientSecret: uuid.NewString(),
		Name:         req.Name,
		IsActive:     true,
		CreatedAt:    s.Now(),
	}
	if err := s.DB.Create(&inst).Error; err != nil {
		s.writeDomainError(w, err)
		return
	}

	openingBalance := decimal.NewFromInt(100000)
	personIDs := make([]string, 0, 10)
	for i := 1; i <= 10; i++ {
		client := models.Client{
			PersonID:   fmt.Sprintf("%s-client-%d", inst.ClientID, i),
			ClientType: "individual",
			FullName:   fmt.Sprintf("%s Test Client %d", req.Name, i),
			Segment:    "mass",
			IsActive:   true,
			CreatedAt:  s.Now(),
		}
		if err := s.DB.Create(&client).Error; err != nil {
			s.writeDomainError(w, err)
			return
		}
		if _, err := s.Ledger.CreateAccount(client.ID, models.AccountTypeChecking, "RUB", openingBalance); err != nil {
			s.writeDomainError(w, err)
			return
		}
		personIDs = append(personIDs, client.PersonID)
	}

	s.writeData(w, r, http.StatusCreated, map[string]any{
		"client_id":     inst.ClientID,
		"client_secret": inst.ClientSecret,
		"name":          inst.Name,
		"test_clients":  personIDs,
	})
}
