package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Context keys for storing authenticated subject information.
type contextKey string

const (
	contextKeyClaims  contextKey = "jwt_claims"
	contextKeySubject contextKey = "subject"
	contextKeyType    contextKey = "token_type"
)

// Audience stamped into every issued token.
const Audience = "openbanking"

// TokenType distinguishes the three token classes the bank issues.
type TokenType string

// Supported token classes.
const (
	TypeClient      TokenType = "client"
	TypeInstitution TokenType = "institution"
	TypeStaff       TokenType = "staff"
)

var allowedTypes = map[TokenType]struct{}{
	TypeClient:      {},
	TypeInstitution: {},
	TypeStaff:       {},
}

// Claims represents identity data extracted from the inbound request.
type Claims struct {
	Subject    string
	Type       TokenType
	Token      *jwt.Token
	Attributes jwt.MapClaims
}

// Service issues and verifies the bank's HS256 bearer tokens.
type Service struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	leeway   time.Duration
	now      func() time.Time
}

// NewService constructs a token service. The issuer is the bank code so tokens
// from different sandbox banks never validate against each other.
func NewService(secret, issuer string, ttl time.Duration) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("signing secret must not be empty")
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, errors.New("issuer is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: Audience,
		ttl:      ttl,
		leeway:   30 * time.Second,
		now:      time.Now,
	}, nil
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Issue mints a signed token for the subject and returns it with its expiry.
func (s *Service) Issue(subject string, typ TokenType) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("token subject is required")
	}
	if _, ok := allowedTypes[typ]; !ok {
		return "", time.Time{}, fmt.Errorf("unsupported token type %q", typ)
	}
	issued := s.now()
	expires := issued.Add(s.ttl)
	claims := jwt.MapClaims{
		"sub":  subject,
		"type": string(typ),
		"iss":  s.issuer,
		"aud":  s.audience,
		"iat":  issued.Unix(),
		"exp":  expires.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses and validates a bearer token and returns its claims.
func (s *Service) Verify(token string) (*Claims, error) {
	if s == nil {
		return nil, errors.New("token service not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("token validation failed")
	}

	subject := ""
	if sub, ok := claims["sub"].(string); ok {
		subject = strings.TrimSpace(sub)
	}
	if subject == "" {
		return nil, errors.New("token subject missing")
	}

	rawType, _ := claims["type"].(string)
	typ := TokenType(strings.ToLower(strings.TrimSpace(rawType)))
	if _, ok := allowedTypes[typ]; !ok {
		return nil, fmt.Errorf("unsupported token type %q", rawType)
	}

	return &Claims{
		Subject:    subject,
		Type:       typ,
		Token:      parsed,
		Attributes: claims,
	}, nil
}

// Middleware enforces bearer authentication and attaches the claims to the
// request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	if s == nil {
		panic("auth middleware is nil")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		if authz == "" {
			http.Error(w, "missing authorization", http.StatusUnauthorized)
			return
		}

		parts := strings.SplitN(authz, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			http.Error(w, "invalid authorization scheme", http.StatusUnauthorized)
			return
		}
		token := strings.TrimSpace(parts[1])
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		claims, err := s.Verify(token)
		if err != nil {
			http.Error(w, "invalid authorization token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyClaims, claims)
		ctx = context.WithValue(ctx, contextKeySubject, claims.Subject)
		ctx = context.WithValue(ctx, contextKeyType, string(claims.Type))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext extracts the Claims previously attached by Middleware.
func FromContext(ctx context.Context) (*Claims, error) {
	if ctx == nil {
		return nil, errors.New("missing context")
	}
	if claims, ok := ctx.Value(contextKeyClaims).(*Claims); ok && claims != nil {
		return claims, nil
	}
	subject, ok := ctx.Value(contextKeySubject).(string)
	if !ok || subject == "" {
		return nil, errors.New("missing subject in context")
	}
	typeStr, ok := ctx.Value(contextKeyType).(string)
	if !ok || typeStr == "" {
		return nil, errors.New("missing token type in context")
	}
	return &Claims{Subject: subject, Type: TokenType(typeStr)}, nil
}

// RequireType ensures the authenticated subject carries one of the allowed
// token classes.
func RequireType(types ...TokenType) func(http.Handler) http.Handler {
	allowed := make(map[TokenType]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := FromContext(r.Context())
			if err != nil {
				http.Error(w, "missing identity", http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[claims.Type]; !ok {
				http.Error(w, "insufficient privileges", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
