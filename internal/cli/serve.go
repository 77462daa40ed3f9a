package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/contoso/sofia/pkg/cron"
	"github.com/contoso/sofia/pkg/kb"
	"github.com/contoso/sofia/pkg/pizza"
	"github.com/contoso/sofia/pkg/server"
	"github.com/contoso/sofia/pkg/session"
	"github.com/contoso/sofia/pkg/toolexecutor"
)

// Settled orders older than this are pruned by the order_prune job.
const orderRetention = 7 * 24 * time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pizza service",
	Long: `Run the HTTP service: the pizza REST API, the MCP endpoint the published
agent calls back into, the order status WebSocket feed, and the
background maintenance jobs.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := appLogger.GetZerolog()

	store, err := newOrderStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open order store: %w", err)
	}
	defer store.Close()

	executor := toolexecutor.New()
	if err := pizza.RegisterTools(executor, store); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	var kbManager *kb.Manager
	if cfg.KB.Enabled {
		kbManager, err = newKBManager(cfg, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Knowledge base unavailable, serving without it")
			kbManager = nil
		} else {
			defer kbManager.Close()
			if err := kbManager.RegisterTools(executor); err != nil {
				return fmt.Errorf("failed to register knowledge base tools: %w", err)
			}
			if cfg.KB.Watch {
				if err := kbManager.Watch(); err != nil {
					logger.Warn().Err(err).Msg("Failed to start knowledge base watcher")
				}
			}
		}
	}

	srv, err := server.New(cfg.Server, store, executor,
		server.WithLogger(logger),
		server.WithVersion(version),
	)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	maintenance := startMaintenance(logger, store, kbManager)
	if maintenance != nil {
		defer maintenance.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	}

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// startMaintenance registers the configured background jobs and starts
// the scheduler. Jobs with an empty schedule stay off; an invalid
// schedule skips that job rather than blocking startup.
func startMaintenance(logger zerolog.Logger, store *pizza.OrderStore, kbManager *kb.Manager) *cron.Service {
	if !cfg.Maintenance.Enabled {
		return nil
	}

	service := cron.NewService(logger)

	register := func(name, spec string, run cron.JobFunc) {
		if strings.TrimSpace(spec) == "" {
			return
		}
		if err := service.Register(name, spec, run); err != nil {
			logger.Warn().Err(err).Str("job", name).Msg("Skipping maintenance job")
		}
	}

	if kbManager != nil {
		register("kb_refresh", cfg.Maintenance.KBRefresh, func(ctx context.Context) error {
			err := kbManager.Sync(ctx)
			if errors.Is(err, kb.ErrSyncInProgress) {
				return nil
			}
			return err
		})
	}

	if sessions, err := session.New(cfg.Sessions.Dir); err != nil {
		logger.Warn().Err(err).Msg("Session cleanup disabled")
	} else {
		cleanup := session.NewCleanupService(
			sessions,
			time.Duration(cfg.Sessions.MaxAgeDays)*24*time.Hour,
			cfg.Sessions.MaxEntries,
		)
		register("session_cleanup", cfg.Maintenance.SessionCleanup, func(ctx context.Context) error {
			_, err := cleanup.RunOnce(ctx)
			return err
		})
	}

	register("order_prune", cfg.Maintenance.OrderPrune, func(ctx context.Context) error {
		pruned, err := store.PruneOrders(ctx, orderRetention)
		if err != nil {
			return err
		}
		if pruned > 0 {
			logger.Info().Int("pruned", pruned).Msg("Pruned settled orders")
		}
		return nil
	})

	service.Start()
	return service
}
