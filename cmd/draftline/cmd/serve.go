package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/draftline-systems/draftline/common/audit"
	"github.com/draftline-systems/draftline/common/logging"
	"github.com/draftline-systems/draftline/common/messaging"
	"github.com/draftline-systems/draftline/common/messaging/factory"
	"github.com/draftline-systems/draftline/internal/config"
	"github.com/draftline-systems/draftline/internal/dedup"
	"github.com/draftline-systems/draftline/internal/gitagent"
	"github.com/draftline-systems/draftline/internal/handlers"
	"github.com/draftline-systems/draftline/internal/lifecycle"
	"github.com/draftline-systems/draftline/internal/metrics"
	"github.com/draftline-systems/draftline/internal/repository"
	"github.com/draftline-systems/draftline/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Draftline service",
	RunE: func(_ *cobra.Command, _ []string) error {
		return serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// serve wires every component explicitly and runs until SIGINT/SIGTERM.
// Construction happens once here; components receive their collaborators by
// reference and nothing reaches for a global.
func serve() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)

	ctx := context.Background()

	// Proposal and rollback stores
	var (
		store     repository.ProposalRepository
		rollbacks repository.RollbackRepository
	)
	switch cfg.Database.Kind {
	case "memory":
		store = repository.NewMemoryRepository()
		rollbacks = repository.NewMemoryRollbackRepository()
		logger.Warn("using in-memory store, proposals will not survive restarts")
	default:
		connString := cfg.Database.Postgres.ConnString()
		if err := runMigrations(connString, logger); err != nil {
			return err
		}
		pg, err := repository.NewPostgresRepository(ctx, connString)
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		store = pg
		rollbacks = pg.RollbackStore()
	}
	defer store.Close()

	// Processed-event dedup store
	var processed dedup.Store
	if cfg.Redis.Enabled {
		rds, err := dedup.NewRedisStore(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		processed = rds
	} else {
		processed = dedup.NewMemoryStore()
	}
	defer processed.Close()

	// Message broker
	broker, err := factory.New(ctx, messaging.BrokerConfig{
		Kind:           messaging.BrokerKind(cfg.Broker.Kind),
		HandlerTimeout: cfg.Broker.HandlerTimeout,
		LogCapacity:    cfg.Broker.LogCapacity,
		URL:            cfg.Broker.URL,
		Name:           cfg.Broker.Name,
		MaxReconnects:  cfg.Broker.MaxReconnects,
		ReconnectWait:  cfg.Broker.ReconnectWait,
	}, metrics.BrokerObserver{}, logger)
	if err != nil {
		return fmt.Errorf("failed to create broker: %w", err)
	}
	defer broker.Close()

	// Decision signing
	var signer *audit.EventSigner
	if cfg.Audit.SigningKey != "" {
		signer = audit.NewEventSigner(cfg.Audit.SigningKey)
	}

	machine := lifecycle.NewMachine(store, broker, signer, logger)

	// Git agent
	engine, err := gitagent.New(gitagent.Config{
		RepoPath:          cfg.Git.RepoPath,
		IntegrationBranch: cfg.Git.IntegrationBranch,
		FallbackBranch:    cfg.Git.FallbackBranch,
		Remote:            cfg.Git.Remote,
		AuthorName:        cfg.Git.AuthorName,
		AuthorEmail:       cfg.Git.AuthorEmail,
	}, rollbacks, broker, processed, logger)
	if err != nil {
		return fmt.Errorf("failed to create git agent: %w", err)
	}
	if err := engine.Start(); err != nil {
		return fmt.Errorf("failed to start git agent: %w", err)
	}
	defer engine.Stop()

	// HTTP server
	handler := handlers.NewHandler(machine, store, engine, broker, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("draftline listening", "port", cfg.Server.Port, "broker", cfg.Broker.Kind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// runMigrations applies pending schema migrations.
func runMigrations(connString string, logger *logging.Logger) error {
	logger.Info("running database migrations")
	m, err := migrate.New("file://migrations", connString)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("database migrations completed")
	return nil
}
