// Command migrate applies or reverts the embedded schema migrations.
//
//	migrate            apply all pending migrations
//	migrate -down 1    revert the most recent migration
package main

import (
	"flag"

	"github.com/joho/godotenv"
	"github.com/transfa/remittance-service/internal/config"
	"github.com/transfa/remittance-service/internal/logger"
	"github.com/transfa/remittance-service/internal/store"
)

func main() {
	down := flag.Int("down", 0, "number of migrations to revert instead of migrating up")
	flag.Parse()

	log := logger.Component("migrate")
	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.WithError(err).Fatal("config load failed")
	}
	if cfg.DatabaseURL == "" {
		log.WithField("env", "DATABASE_URL").Fatal("database url must be configured")
	}

	if *down > 0 {
		if err := store.RollbackMigrations(cfg.DatabaseURL, *down); err != nil {
			log.WithError(err).Fatal("rollback failed")
		}
		log.WithField("steps", *down).Info("migrations reverted")
		return
	}

	if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
		log.WithError(err).Fatal("migration failed")
	}
	log.Info("migrations applied")
}
