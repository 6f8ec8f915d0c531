package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/ses-bulk-sender/internal/pkg/logger"
	"github.com/ignite/ses-bulk-sender/internal/repository/postgres"
)

const usage = `usage: migrate [up|down|status]

Applies the embedded history schema migrations to DATABASE_URL.
  up      apply all pending migrations (default)
  down    roll back the most recent migration
  status  print the state of every migration`

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(2)
	}

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migrate: connect", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("migrate: ping", "error", err)
		os.Exit(1)
	}

	switch cmd {
	case "up":
		err = postgres.Migrate(ctx, db)
	case "down":
		err = postgres.Rollback(ctx, db)
	case "status":
		err = postgres.MigrationStatus(ctx, db)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("migrate: "+cmd+" failed", "error", err)
		os.Exit(1)
	}
	logger.Info("migrate: " + cmd + " complete")
}
