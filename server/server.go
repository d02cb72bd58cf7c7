// Package server exposes the sandbox bank's OpenBanking-style HTTP API.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"vbank/auth"
	"vbank/consent"
	"vbank/ledger"
	vbankmw "vbank/middleware"
	"vbank/models"
	"vbank/observability"
	"vbank/payment"
	"vbank/product"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	DB       *gorm.DB
	Auth     *auth.Service
	Registry *consent.Registry
	Ledger   *ledger.Ledger
	Payments *payment.Engine
	Products *product.Manager

	BankCode    string
	BankName    string
	BankBIN     string
	StaffSecret string
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	DB       *gorm.DB
	Auth     *auth.Service
	Registry *consent.Registry
	Mediator *consent.Mediator
	Ledger   *ledger.Ledger
	Payments *payment.Engine
	Products *product.Manager

	BankCode    string
	BankName    string
	BankBIN     string
	StaffSecret string

	Now func() time.Time

	router http.Handler
}

// New constructs a configured HTTP router with authentication, metrics, and
// idempotency support.
func New(cfg Config) *Server {
	srv := &Server{
		DB:          cfg.DB,
		Auth:        cfg.Auth,
		Registry:    cfg.Registry,
		Mediator:    consent.NewMediator(cfg.Registry),
		Ledger:      cfg.Ledger,
		Payments:    cfg.Payments,
		Products:    cfg.Products,
		BankCode:    cfg.BankCode,
		BankName:    cfg.BankName,
		BankBIN:     cfg.BankBIN,
		StaffSecret: cfg.StaffSecret,
		Now:         time.Now,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/auth", func(ar chi.Router) {
		ar.Post("/login", s.Login)
		ar.Post("/bank-token", s.BankToken)
		ar.Post("/staff-login", s.StaffLogin)
		ar.Post("/register-institution", s.RegisterInstitution)
	})

	r.Group(func(protected chi.Router) {
		protected.Use(s.Auth.Middleware)
		protected.Use(s.institutionContext)

		protected.Get("/accounts", s.ListAccounts)
		protected.Post("/accounts", s.CreateAccount)
		protected.Get("/accounts/{id}", s.GetAccount)
		protected.Get("/accounts/{id}/balances", s.GetBalances)
		protected.Get("/accounts/{id}/transactions", s.ListTransactions)
		protected.Put("/accounts/{id}/close", s.CloseAccount)

		protected.Get("/cards", s.ListCards)
		protected.Post("/cards", s.CreateCard)
		protected.Get("/cards/{id}", s.GetCard)
		protected.Put("/cards/{id}/status", s.UpdateCardStatus)
		protected.Put("/cards/{id}/limits", s.UpdateCardLimits)

		protected.Get("/notifications", s.ListNotifications)
		protected.Put("/notifications/{id}/read", s.MarkNotificationRead)

		protected.With(auth.RequireType(auth.TypeInstitution, auth.TypeStaff)).
			Post("/account-consents/request", s.RequestAccountConsent)
		protected.With(auth.RequireType(auth.TypeClient)).
			Post("/account-consents/{requestID}/sign", s.SignAccountConsent)
		protected.Get("/account-consents/{id}", s.GetAccountConsent)
		protected.Delete("/account-consents/{id}", s.RevokeAccountConsent)

		protected.With(auth.RequireType(auth.TypeInstitution, auth.TypeStaff)).
			Post("/payment-consents/request", s.RequestPaymentConsent)
		protected.With(auth.RequireType(auth.TypeClient)).
			Post("/payment-consents/{requestID}/sign", s.SignPaymentConsent)
		protected.Get("/payment-consents/{id}", s.GetPaymentConsent)
		protected.Delete("/payment-consents/{id}", s.RevokePaymentConsent)

		protected.With(auth.RequireType(auth.TypeInstitution, auth.TypeStaff)).
			Post("/product-agreement-consents/request", s.RequestProductConsent)
		protected.With(auth.RequireType(auth.TypeClient)).
			Post("/product-agreement-consents/{requestID}/sign", s.SignProductConsent)
		protected.Get("/product-agreement-consents/{id}", s.GetProductConsent)
		protected.Delete("/product-agreement-consents/{id}", s.RevokeProductConsent)

		protected.Post("/vrp-consents", s.CreateVRPConsent)
		protected.Get("/vrp-consents/{id}", s.GetVRPConsent)
		protected.Delete("/vrp-consents/{id}", s.RevokeVRPConsent)

		protected.With(auth.RequireType(auth.TypeInstitution, auth.TypeStaff)).
			Post("/product-offer-consents", s.CreateOfferConsent)
		protected.Get("/product-offer-consents/{id}", s.GetOfferConsent)
		protected.Delete("/product-offer-consents/{id}", s.RevokeOfferConsent)

		protected.With(s.idempotent).Post("/payments", s.InitiatePayment)
		protected.Get("/payments/{id}", s.GetPayment)
		protected.Post("/domestic-vrp-payments", s.ExecuteVRPPayment)
		protected.Get("/domestic-vrp-payments/{id}", s.GetVRPPayment)

		protected.Get("/products", s.ListProducts)
		protected.Get("/products/{id}", s.GetProduct)
		protected.Get("/product-agreements", s.ListAgreements)
		protected.Post("/product-agreements", s.OpenAgreement)
		protected.Get("/product-agreements/{id}", s.GetAgreement)
		protected.Delete("/product-agreements/{id}", s.CloseAgreement)

		protected.With(auth.RequireType(auth.TypeInstitution, auth.TypeStaff)).
			Post("/customer-leads", s.CreateLead)
		protected.With(auth.RequireType(auth.TypeInstitution, auth.TypeStaff)).
			Get("/customer-leads", s.ListLeads)
		protected.With(auth.RequireType(auth.TypeInstitution, auth.TypeStaff)).
			Get("/customer-leads/{id}", s.GetLead)

		protected.With(auth.RequireType(auth.TypeInstitution, auth.TypeStaff)).
			Post("/product-offers", s.CreateOffer)
		protected.Get("/product-offers/{id}", s.GetOffer)
		protected.Post("/product-offers/{id}/respond", s.RespondToOffer)

		protected.With(auth.RequireType(auth.TypeClient)).
			Post("/product-applications", s.SubmitApplication)
		protected.Get("/product-applications/{id}", s.GetApplication)
		protected.With(auth.RequireType(auth.TypeStaff)).
			Post("/product-applications/{id}/decision", s.DecideApplication)
	})

	return r
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		observability.API().Observe(route, r.Method, ww.Status(), time.Since(start))
	})
}

func (s *Server) idempotent(next http.Handler) http.Handler {
	return vbankmw.WithIdempotency(s.DB, next)
}

// institutionContext enforces the X-Requesting-Institution header on every
// authenticated institution request. Client data can be addressed by query
// parameter or by resource path, so the check cannot depend on either; the
// header must always equal the token's subject.
func (s *Server) institutionContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := auth.FromContext(r.Context())
		if err == nil && claims.Type == auth.TypeInstitution {
			if requesting := r.Header.Get("X-Requesting-Institution"); requesting != claims.Subject {
				s.writeError(w, http.StatusForbidden, "FORBIDDEN",
					"X-Requesting-Institution must match the authenticated institution", "")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Healthz reports liveness and database reachability.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "database unreachable", "")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "bank": s.BankCode})
}

// requestedConsentID returns the consent the caller pinned with the
// X-Consent-Id header, if any. Institution checks then match that exact
// consent instead of the newest authorized one.
func requestedConsentID(r *http.Request) string {
	return r.Header.Get("X-Consent-Id")
}

// ownerFromRequest resolves the client whose resources the request targets.
// Client tokens act on their own data; institutions and staff name the client
// with the client_id query parameter.
func (s *Server) ownerFromRequest(r *http.Request, claims *auth.Claims) (*models.Client, error) {
	if claims.Type == auth.TypeClient {
		return s.Mediator.ResolveClient(claims.Subject)
	}
	personID := r.URL.Query().Get("client_id")
	if personID == "" {
		return nil, ledger.ErrClientNotFound
	}
	return s.Ledger.GetClientByPersonID(personID)
}
