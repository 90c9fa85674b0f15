package main

import (
	"log"

	"einvoice/internal/cli"
	"einvoice/internal/config"
	"einvoice/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load("configs/.env"); err != nil {
		log.Printf("Warning: Could not load configs/.env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	cli.Execute(cfg)
}
