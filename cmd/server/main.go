package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fabian4819/Kedaireka-Backend/internal/config"
	"github.com/fabian4819/Kedaireka-Backend/internal/database"
	"github.com/fabian4819/Kedaireka-Backend/internal/handler"
	"github.com/fabian4819/Kedaireka-Backend/internal/identity"
	"github.com/fabian4819/Kedaireka-Backend/internal/logger"
	"github.com/fabian4819/Kedaireka-Backend/internal/mail"
	"github.com/fabian4819/Kedaireka-Backend/internal/migrate"
	"github.com/fabian4819/Kedaireka-Backend/internal/repository"
	"github.com/fabian4819/Kedaireka-Backend/internal/service"
	"github.com/fabian4819/Kedaireka-Backend/internal/token"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "application error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.IsDevelopment(), cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, database.Options{
		URL:        cfg.DatabaseURL,
		Serverless: cfg.IsServerless(),
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	log.Info("database connected", zap.Bool("serverless", cfg.IsServerless()))

	if cfg.AutoMigrate {
		runner, err := migrate.New(db, log)
		if err != nil {
			return err
		}
		applied, err := runner.Up(ctx)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("migrations up to date", zap.Strings("applied", applied))
	}

	fb, err := identity.NewFirebase(ctx, identity.Config{
		ProjectID:       cfg.Firebase.ProjectID,
		CredentialsFile: cfg.Firebase.CredentialsFile,
		CredentialsJSON: cfg.Firebase.CredentialsJSON,
	})
	if err != nil {
		return fmt.Errorf("init identity provider: %w", err)
	}
	gateway := identity.NewBreaker(fb, identity.BreakerSettings{}, log)

	mailer, err := mail.New(mail.Config{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Secure:   cfg.Email.Secure,
		User:     cfg.Email.User,
		Pass:     cfg.Email.Pass,
		FromName: cfg.Email.FromName,
	}, log)
	if err != nil {
		return fmt.Errorf("init mailer: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, rate limits fail open until it recovers", zap.Error(err))
		}
	}

	tokens := token.NewIssuer(token.Config{
		AccessSecret:  cfg.JWTSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.JWTExpiresIn.Std(),
		RefreshTTL:    cfg.JWTRefreshExpiresIn.Std(),
	})

	authSvc := service.NewAuthService(
		repository.NewUserRepository(db),
		gateway,
		mailer,
		tokens,
		service.AuthConfig{BcryptCost: cfg.BcryptCost},
		log,
	)

	e := handler.NewRouter(handler.RouterConfig{
		CORSOrigin:      cfg.CORSOrigin,
		RateLimitWindow: cfg.RateLimitWindow,
		RateLimitMax:    cfg.RateLimitMax,
		Redis:           rdb,
	}, handler.Deps{
		Auth:   authSvc,
		Tokens: tokens,
		DB:     db,
		Log:    log,
	})
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 30 * time.Second
	e.Server.IdleTimeout = 60 * time.Second

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.Int("port", cfg.Port), zap.String("env", cfg.AppEnv))
		errCh <- e.Start(fmt.Sprintf(":%d", cfg.Port))
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}
