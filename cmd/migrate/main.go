package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/agentsaas/tokenledger/internal/config"
	"github.com/agentsaas/tokenledger/internal/ledger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		fmt.Println("Error: migration command is required")
		fmt.Println("Usage: go run ./cmd/migrate [command] [args]")
		fmt.Println("Commands: up, down, status, redo, version")
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	log.Printf("starting migration: %s", args[0])

	if err := ledger.RunMigrations(ctx, cfg.DatabaseURL, args[0], args[1:]...); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	fmt.Println("Migration finished successfully")
}
