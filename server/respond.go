package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vbank/consent"
	"vbank/ledger"
	"vbank/payment"
	"vbank/product"
)

// responseLinks is the navigation block of the response envelope.
type responseLinks struct {
	Self string  `json:"self"`
	Next *string `json:"next,omitempty"`
	Prev *string `json:"prev,omitempty"`
}

// responseMeta carries paging counters and consent stamps where they apply.
type responseMeta struct {
	TotalPages     *int       `json:"totalPages,omitempty"`
	TotalRecords   *int64     `json:"totalRecords,omitempty"`
	CurrentPage    *int       `json:"currentPage,omitempty"`
	PageSize       *int       `json:"pageSize,omitempty"`
	ConsentID      string     `json:"consentId,omitempty"`
	LastAccessTime *time.Time `json:"lastAccessTime,omitempty"`
}

type envelope struct {
	Data  any           `json:"data"`
	Links responseLinks `json:"links"`
	Meta  responseMeta  `json:"meta"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeData wraps the payload in the standard envelope.
func (s *Server) writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	s.writeJSON(w, status, envelope{
		Data:  data,
		Links: responseLinks{Self: r.URL.RequestURI()},
	})
}

// writeDataMeta is writeData with an explicit meta block, used when a read
// under an institution consent must echo the consent id and access stamp.
func (s *Server) writeDataMeta(w http.ResponseWriter, r *http.Request, status int, data any, meta responseMeta) {
	s.writeJSON(w, status, envelope{
		Data:  data,
		Links: responseLinks{Self: r.URL.RequestURI()},
		Meta:  meta,
	})
}

// writePage wraps a list payload with paging meta and next/prev links.
func (s *Server) writePage(w http.ResponseWriter, r *http.Request, data any, page ledger.Page, meta responseMeta) {
	meta.TotalPages = &page.TotalPages
	meta.TotalRecords = &page.TotalRecords
	meta.CurrentPage = &page.Page
	meta.PageSize = &page.PageSize

	links := responseLinks{Self: r.URL.RequestURI()}
	if page.Page < page.TotalPages {
		links.Next = pageLink(r, page.Page+1, page.PageSize)
	}
	if page.Page > 1 {
		links.Prev = pageLink(r, page.Page-1, page.PageSize)
	}
	s.writeJSON(w, http.StatusOK, envelope{Data: data, Links: links, Meta: meta})
}

func pageLink(r *http.Request, page, limit int) *string {
	u := *r.URL
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()
	link := u.RequestURI()
	return &link
}

// writeError emits the error envelope with a stable machine-readable code.
func (s *Server) writeError(w http.ResponseWriter, status int, code, message, hint string) {
	s.writeJSON(w, status, errorBody{Error: code, Message: message, Hint: hint})
}

// writeDomainError maps package sentinels onto HTTP statuses and stable codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status, code := mapError(err)
	hint := ""
	if errors.Is(err, consent.ErrConsentRequired) {
		hint = "the client must grant a consent covering this operation first"
	}
	s.writeError(w, status, code, err.Error(), hint)
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, consent.ErrConsentRequired):
		return http.StatusForbidden, "CONSENT_REQUIRED"
	case errors.Is(err, consent.ErrConsentMismatch):
		return http.StatusForbidden, "CONSENT_MISMATCH"
	case errors.Is(err, consent.ErrInvalidScope):
		return http.StatusForbidden, "INVALID_SCOPE"
	case errors.Is(err, consent.ErrInvalidConsent):
		return http.StatusForbidden, "INVALID_CONSENT"
	case errors.Is(err, consent.ErrInvalidTransition), errors.Is(err, consent.ErrAlreadyResponded):
		return http.StatusConflict, "INVALID_STATUS_TRANSITION"
	case errors.Is(err, consent.ErrLimitExceeded):
		return http.StatusUnprocessableEntity, "LIMIT_EXCEEDED"
	case errors.Is(err, consent.ErrOutsideWindow):
		return http.StatusUnprocessableEntity, "OUTSIDE_WINDOW"
	case errors.Is(err, consent.ErrNotGrantor), errors.Is(err, consent.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, consent.ErrUnknownSubject):
		return http.StatusNotFound, "CLIENT_NOT_FOUND"
	case errors.Is(err, consent.ErrRequestNotFound), errors.Is(err, consent.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"

	case errors.Is(err, payment.ErrSourceNotFound):
		return http.StatusNotFound, "SOURCE_NOT_FOUND"
	case errors.Is(err, payment.ErrDestinationNotFound):
		return http.StatusNotFound, "ACCOUNT_NOT_FOUND"
	case errors.Is(err, payment.ErrCurrencyMismatch):
		return http.StatusUnprocessableEntity, "CURRENCY_MISMATCH"
	case errors.Is(err, payment.ErrInvalidAmount):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, payment.ErrPaymentNotFound):
		return http.StatusNotFound, "NOT_FOUND"

	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrInsufficientCapital):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"
	case errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound, "ACCOUNT_NOT_FOUND"
	case errors.Is(err, ledger.ErrClientNotFound):
		return http.StatusNotFound, "CLIENT_NOT_FOUND"
	case errors.Is(err, ledger.ErrAccountClosed):
		return http.StatusConflict, "ACCOUNT_CLOSED"
	case errors.Is(err, ledger.ErrInvalidCloseAction),
		errors.Is(err, ledger.ErrDestinationRequired),
		errors.Is(err, ledger.ErrSameAccount):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, ledger.ErrCardNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ledger.ErrInvalidCardStatus):
		return http.StatusConflict, "INVALID_STATUS_TRANSITION"

	case errors.Is(err, product.ErrProductNotFound),
		errors.Is(err, product.ErrAgreementNotFound),
		errors.Is(err, product.ErrApplicationNotFound),
		errors.Is(err, product.ErrOfferNotFound),
		errors.Is(err, product.ErrLeadNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, product.ErrAgreementClosed):
		return http.StatusConflict, "INVALID_STATUS_TRANSITION"
	case errors.Is(err, product.ErrProductInactive):
		return http.StatusUnprocessableEntity, "PRODUCT_INACTIVE"
	case errors.Is(err, product.ErrAmountOutOfRange):
		return http.StatusUnprocessableEntity, "AMOUNT_OUT_OF_RANGE"
	case errors.Is(err, product.ErrSourceRequired):
		return http.StatusUnprocessableEntity, "SOURCE_REQUIRED"
	case errors.Is(err, product.ErrRepaymentRequired):
		return http.StatusUnprocessableEntity, "REPAYMENT_REQUIRED"
	case errors.Is(err, product.ErrDispositionNeeded):
		return http.StatusUnprocessableEntity, "DISPOSITION_REQUIRED"
	case errors.Is(err, product.ErrUnknownProductType):
		return http.StatusBadRequest, "VALIDATION_ERROR"

	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// denyAccess reports a mediation failure, hinting at the missing permissions
// when the client has not granted a consent at all.
func (s *Server) denyAccess(w http.ResponseWriter, err error, permissions ...string) {
	status, code := mapError(err)
	hint := ""
	if errors.Is(err, consent.ErrConsentRequired) && len(permissions) > 0 {
		hint = "request a consent covering: " + strings.Join(permissions, ", ")
	}
	s.writeError(w, status, code, err.Error(), hint)
}

func (s *Server) writeValidationError(w http.ResponseWriter, message string) {
	s.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", message, "")
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
