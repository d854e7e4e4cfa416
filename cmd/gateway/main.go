package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/bulltrade/gateway/internal/config"
	"github.com/bulltrade/gateway/internal/server"
)

func main() {
	log.Println("Starting trading gateway...")

	// Optional .env for local development; absence is fine.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env")
	}

	cfg := config.DefaultConfig()
	if path := os.Getenv("GATEWAY_CONFIG"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			log.Printf("Failed to load config %s: %v", path, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Positional overrides: gateway [port [host]]
	if len(os.Args) > 1 {
		cfg.Server.Port = os.Args[1]
	}
	if len(os.Args) > 2 {
		cfg.Server.Host = os.Args[2]
	}
	if secret := os.Getenv("GATEWAY_JWT_SECRET"); secret != "" {
		cfg.Session.Secret = secret
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		log.Printf("Startup failed: %v", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		log.Printf("Server failed: %v", err)
		os.Exit(1)
	}
	log.Println("Shutdown complete")
}
