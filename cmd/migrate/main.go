package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"envsignal-platform/internal/config"
	"envsignal-platform/migrations"
	"envsignal-platform/pkg/database"
	"envsignal-platform/pkg/logging"
	"envsignal-platform/pkg/metrics"
)

// execer runs one SQL script; satisfied by *database.PostgresDB.
type execer interface {
	ExecContext(ctx context.Context, queryType, query string, args ...interface{}) (sql.Result, error)
}

// applyScripts runs scripts in order and stops at the first failure.
func applyScripts(ctx context.Context, db execer, dir migrations.Direction, scripts []migrations.Script, logger *logging.StructuredLogger) error {
	for _, script := range scripts {
		start := time.Now()
		if _, err := db.ExecContext(ctx, "migrate_"+string(dir), script.SQL); err != nil {
			return fmt.Errorf("migration %s failed: %w", script.Name, err)
		}
		logger.Info(ctx, "[MIGRATE_APPLIED] Migration applied", logging.Fields{
			"script":      script.Name,
			"direction":   string(dir),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
	return nil
}

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	dir, err := migrations.ParseDirection(*direction)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("envsignal-migrate", "1.0.0", logging.ParseLevel(cfg.Logging.Level))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := database.NewPostgresDB(&database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, logger, metrics.NewCollector("envsignal_migrate"))
	if err != nil {
		logger.Fatal(ctx, "[MIGRATE_ERROR] Failed to connect to database", logging.Fields{
			"host":     cfg.Database.Host,
			"database": cfg.Database.Database,
		}, err)
	}
	defer db.Close()

	scripts, err := migrations.Scripts(dir)
	if err != nil {
		logger.Fatal(ctx, "[MIGRATE_ERROR] Failed to read embedded migrations", logging.Fields{}, err)
	}

	if err := applyScripts(ctx, db, dir, scripts, logger); err != nil {
		logger.Fatal(ctx, "[MIGRATE_ERROR] Migration failed", logging.Fields{
			"direction": string(dir),
		}, err)
	}

	logger.Info(ctx, "[MIGRATE_COMPLETE] Migrations completed successfully", logging.Fields{
		"direction": string(dir),
		"scripts":   len(scripts),
	})
}
