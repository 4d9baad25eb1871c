package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/config"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/logger"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/repository/postgres"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	source := flag.String("source", "file://migrations", "migration source URL")
	down := flag.Int("down", 0, "roll back this many migrations instead of applying")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	_, closer, err := logger.Setup(cfg.Logging, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("source", *source).
		Msg("Running database migrations")

	if *down > 0 {
		err = postgres.RollbackMigrations(cfg.Database.DSN(), *source, *down)
	} else {
		err = postgres.RunMigrations(cfg.Database.DSN(), *source)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}
