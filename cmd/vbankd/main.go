package main

import (
	"log"
	"net/http"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"vbank/auth"
	"vbank/config"
	"vbank/consent"
	"vbank/ledger"
	"vbank/models"
	"vbank/observability/logging"
	"vbank/payment"
	"vbank/product"
	"vbank/seed"
	"vbank/server"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.Setup("vbankd", cfg.Env)

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("database connection error: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("auto migrate error: %v", err)
	}

	if err := seed.Capital(db, cfg.BankCode, cfg.InitialCapital); err != nil {
		log.Fatalf("seed capital error: %v", err)
	}

	tokens, err := auth.NewService(cfg.JWTSecret, cfg.BankCode, cfg.TokenTTL)
	if err != nil {
		log.Fatalf("token service error: %v", err)
	}

	registry := consent.NewRegistry(db, consent.Options{
		ConsentTTL:                 cfg.ConsentTTL,
		PaymentConsentTTL:          cfg.PaymentConsentTTL,
		AutoApproveConsents:        cfg.AutoApproveConsents,
		AutoApprovePaymentConsents: cfg.AutoApprovePaymentConsents,
		AutoApproveProductConsents: cfg.AutoApproveProductConsents,
	})
	book := ledger.New(db, cfg.BankCode)
	var settler payment.SettlementClient
	if client := payment.NewSettlementClient(payment.SettlementConfig{
		BaseURL: cfg.SettlementBaseURL,
		APIKey:  cfg.SettlementAPIKey,
		Timeout: cfg.SettlementTimeout,
	}); client != nil {
		settler = client
	}
	engine := payment.NewEngine(db, book, registry, cfg.BankCode, settler)
	manager := product.NewManager(db, book, registry)

	if cfg.SeedDemoData {
		if err := seed.DemoData(db, book); err != nil {
			log.Fatalf("seed demo data error: %v", err)
		}
	}

	srv := server.New(server.Config{
		DB:          db,
		Auth:        tokens,
		Registry:    registry,
		Ledger:      book,
		Payments:    engine,
		Products:    manager,
		BankCode:    cfg.BankCode,
		BankName:    cfg.BankName,
		BankBIN:     cfg.BankBIN,
		StaffSecret: cfg.StaffSecret,
	})

	addr := ":" + cfg.Port
	logger.Info("starting vbankd", "addr", addr, "bank", cfg.BankCode)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
