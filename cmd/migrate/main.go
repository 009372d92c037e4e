// Command migrate applies, rolls back and lists schema migrations.
//
//	migrate up
//	migrate rollback <name>
//	migrate status
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/fabian4819/Kedaireka-Backend/internal/database"
	"github.com/fabian4819/Kedaireka-Backend/internal/logger"
	"github.com/fabian4819/Kedaireka-Backend/internal/migrate"
)

type settings struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s up | rollback <name> | status\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		flag.Usage()
		return errors.New("missing command")
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	var s settings
	if err := env.Parse(&s); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	log, err := logger.New(true, s.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, database.Options{URL: s.DatabaseURL})
	if err != nil {
		return err
	}
	defer db.Close()

	runner, err := migrate.New(db, log)
	if err != nil {
		return err
	}

	switch args[0] {
	case "up":
		applied, err := runner.Up(ctx)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			log.Info("nothing to apply")
		}
		for _, name := range applied {
			log.Info("applied", zap.String("migration", name))
		}
	case "rollback":
		if len(args) < 2 {
			return errors.New("rollback requires a migration name")
		}
		if err := runner.Rollback(ctx, args[1]); err != nil {
			return err
		}
		log.Info("rolled back", zap.String("migration", args[1]))
	case "status":
		records, err := runner.Status(ctx)
		if err != nil {
			return err
		}
		for _, r := range records {
			fmt.Printf("%-40s %s\n", r.Name, r.ExecutedAt.Format("2006-01-02 15:04:05"))
		}
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}
