package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/reponaut/edugain/internal/config"
	"github.com/reponaut/edugain/internal/db"
	"github.com/reponaut/edugain/internal/repository"
	"github.com/reponaut/edugain/internal/routes"
	"github.com/reponaut/edugain/internal/services"
	"github.com/reponaut/edugain/pkg/debug"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the SAML login service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	scheduler := services.NewIngestScheduler(cfg, repository.NewIdPRepository(database))
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           routes.Setup(cfg, database),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		debug.Info("Listening on %s", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		debug.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}
