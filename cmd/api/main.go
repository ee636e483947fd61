package main

import (
	"log"

	"github.com/joho/godotenv"

	"ablab/adapters/excel"
	"ablab/app"
	"ablab/internal/config"
	"ablab/ports"
	"ablab/ui"
)

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	service := app.NewAnalysisService(cfg.Analysis, ports.FixedSeedRNG{})
	api := ui.NewApp(service, excel.NewEventReader())

	if err := api.Start(ui.Config{Port: cfg.Server.Port}); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
