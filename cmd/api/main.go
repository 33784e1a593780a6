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

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mcclellann/loanbook/pkg/auth"
	"github.com/mcclellann/loanbook/pkg/config"
	"github.com/mcclellann/loanbook/pkg/models"
	"github.com/mcclellann/loanbook/pkg/store"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err)
	}

	sqliteStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		sugar.Fatalw("failed to initialize SQLite store", "error", err)
	}
	defer sqliteStore.Close()

	authority := auth.New(cfg.AuthSecret)
	server := NewServer(sqliteStore, authority, sugar)

	if err := seedUnderwriter(sqliteStore, cfg, sugar); err != nil {
		sugar.Fatalw("failed to seed underwriter account", "error", err)
	}

	httpServer := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: server.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Periodic sweep marking overdue installments LATE.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.LateSweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				today := time.Now().UTC().Truncate(24 * time.Hour)
				server.ledger.RefreshAllLateStatuses(today)
			}
		}
	})

	g.Go(func() error {
		sugar.Infow("starting loanbook server", "addr", cfg.RunAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// seedUnderwriter creates the configured underwriter account on first start.
func seedUnderwriter(s store.Storage, cfg *config.Config, log *zap.SugaredLogger) error {
	if cfg.UnderwriterLogin == "" || cfg.UnderwriterPassword == "" {
		return nil
	}

	if _, err := s.GetCustomerByLogin(cfg.UnderwriterLogin); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	underwriter := &models.Customer{
		ID:           uuid.New(),
		Login:        cfg.UnderwriterLogin,
		PasswordHash: auth.HashPassword(cfg.UnderwriterLogin, cfg.UnderwriterPassword),
		Role:         auth.RoleUnderwriter,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateCustomer(underwriter); err != nil {
		return err
	}
	log.Infow("seeded underwriter account", "login", cfg.UnderwriterLogin)
	return nil
}
