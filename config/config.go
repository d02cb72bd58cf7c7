package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config represents runtime configuration for the sandbox bank service.
type Config struct {
	Port     string
	Env      string
	BankCode string
	BankName string
	BankBIN  string

	DatabaseURL string

	JWTSecret   string
	TokenTTL    time.Duration
	StaffSecret string

	ConsentTTL        time.Duration
	PaymentConsentTTL time.Duration

	AutoApproveConsents        bool
	AutoApprovePaymentConsents bool
	AutoApproveProductConsents bool

	SettlementBaseURL string
	SettlementAPIKey  string
	SettlementTimeout time.Duration

	InitialCapital decimal.Decimal
	SeedDemoData   bool
}

// FromEnv loads configuration from environment variables required by the service.
func FromEnv() (*Config, error) {
	port := getEnvDefault("VBANK_PORT", "8080")

	dbURL := os.Getenv("VBANK_DB_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("VBANK_DB_URL is required")
	}

	bankCode := strings.TrimSpace(getEnvDefault("VBANK_BANK_CODE", "vbank"))
	bankName := getEnvDefault("VBANK_BANK_NAME", "VBank Sandbox")
	bankBIN := getEnvDefault("VBANK_CARD_BIN", "427610")
	if len(bankBIN) != 6 {
		return nil, fmt.Errorf("invalid VBANK_CARD_BIN %q: must be 6 digits", bankBIN)
	}

	secret := strings.TrimSpace(os.Getenv("VBANK_JWT_SECRET"))
	if secret == "" {
		return nil, fmt.Errorf("VBANK_JWT_SECRET is required")
	}
	staffSecret := strings.TrimSpace(getEnvDefault("VBANK_STAFF_SECRET", "staff-secret"))

	tokenHours := parseIntEnv("VBANK_TOKEN_TTL_HOURS", 24)
	if tokenHours <= 0 {
		return nil, fmt.Errorf("invalid VBANK_TOKEN_TTL_HOURS %d", tokenHours)
	}

	consentDays := parseIntEnv("VBANK_CONSENT_TTL_DAYS", 365)
	if consentDays <= 0 {
		return nil, fmt.Errorf("invalid VBANK_CONSENT_TTL_DAYS %d", consentDays)
	}
	paymentConsentDays := parseIntEnv("VBANK_PAYMENT_CONSENT_TTL_DAYS", 90)
	if paymentConsentDays <= 0 {
		return nil, fmt.Errorf("invalid VBANK_PAYMENT_CONSENT_TTL_DAYS %d", paymentConsentDays)
	}

	settlementBase := getEnvDefault("VBANK_SETTLEMENT_BASE_URL", "")
	settlementTimeoutSeconds := parseIntEnv("VBANK_SETTLEMENT_TIMEOUT_SECONDS", 10)
	if settlementTimeoutSeconds <= 0 {
		settlementTimeoutSeconds = 10
	}

	capitalRaw := getEnvDefault("VBANK_INITIAL_CAPITAL", "1000000.00")
	capital, err := decimal.NewFromString(capitalRaw)
	if err != nil || capital.IsNegative() {
		return nil, fmt.Errorf("invalid VBANK_INITIAL_CAPITAL %q", capitalRaw)
	}

	return &Config{
		Port:                       normalizePort(port),
		Env:                        getEnvDefault("VBANK_ENV", "sandbox"),
		BankCode:                   bankCode,
		BankName:                   bankName,
		BankBIN:                    bankBIN,
		DatabaseURL:                dbURL,
		JWTSecret:                  secret,
		StaffSecret:                staffSecret,
		TokenTTL:                   time.Duration(tokenHours) * time.Hour,
		ConsentTTL:                 time.Duration(consentDays) * 24 * time.Hour,
		PaymentConsentTTL:          time.Duration(paymentConsentDays) * 24 * time.Hour,
		AutoApproveConsents:        parseBoolEnv("VBANK_AUTO_APPROVE_CONSENTS", true),
		AutoApprovePaymentConsents: parseBoolEnv("VBANK_AUTO_APPROVE_PAYMENT_CONSENTS", true),
		AutoApproveProductConsents: parseBoolEnv("VBANK_AUTO_APPROVE_PRODUCT_CONSENTS", true),
		SettlementBaseURL:          settlementBase,
		SettlementAPIKey:           strings.TrimSpace(os.Getenv("VBANK_SETTLEMENT_API_KEY")),
		SettlementTimeout:          time.Duration(settlementTimeoutSeconds) * time.Second,
		InitialCapital:             capital,
		SeedDemoData:               parseBoolEnv("VBANK_SEED_DEMO_DATA", true),
	}, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func normalizePort(port string) string {
	if port == "" {
		return "8080"
	}
	if _, err := strconv.Atoi(port); err == nil {
		return port
	}
	// Allow values like ":8080".
	if len(port) > 0 && port[0] == ':' {
		return port[1:]
	}
	return port
}

func parseIntEnv(key string, def int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return def
}

func parseBoolEnv(key string, def bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return def
}
