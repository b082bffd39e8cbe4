package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hueni/internal/config"
	"github.com/dokzlo13/hueni/internal/light"
	"github.com/dokzlo13/hueni/internal/reconcile"
	"github.com/dokzlo13/hueni/internal/transit"
)

// App is the main application container: it connects the adapters, prepares the
// reconciler and runs it.
type App struct {
	cfg        *config.Config
	services   *Services
	reconciler *reconcile.Reconciler
}

// New creates a new App instance with all services initialized but not started.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Setup does everything that has to succeed before the first cycle: bridge connection
// and pairing, route lookup, monitor resolution and the natural state snapshot.
func (a *App) Setup(ctx context.Context) error {
	a.pruneLedger()

	if err := a.services.Hue.Connect(ctx); err != nil {
		return err
	}

	routes, err := a.services.Transit.ListRoutes(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch routes: %w", err)
	}
	routes = transit.FilterAgency(routes, a.cfg.Transit.Agency)
	log.Info().Str("agency", a.cfg.Transit.Agency).Int("routes", len(routes)).Msg("Fetched routes")

	monitors, err := reconcile.ResolveMonitors(a.cfg.Stops, routes)
	if err != nil {
		return err
	}

	natural, err := light.Snapshot(ctx, a.services.Hue)
	if err != nil {
		return err
	}

	opts := reconcile.Options{
		MergeMode:             a.cfg.Effects.MergeMode(),
		TransitionTime:        *a.cfg.Effects.TransitionTime,
		RestoreTransitionTime: *a.cfg.Effects.RestoreTransitionTime,
		Interval:              a.cfg.Poll.Interval.Duration(),
		Duration:              a.cfg.Poll.Duration.Duration(),
		RateLimitRPS:          a.cfg.Reconciler.RateLimitRPS,
		ShutdownTimeout:       a.cfg.ShutdownTimeout.Duration(),
	}
	if a.services.Ledger != nil {
		opts.Journal = a.services.Ledger
	}

	a.reconciler = reconcile.New(a.services.Hue, a.services.Transit, natural, monitors, opts)
	a.services.Health.SetStatusProvider(a.reconciler)
	return nil
}

// Run starts the health server and drives the reconciler until ctx is cancelled, the
// run duration elapses or a cycle fails. Lights are restored before it returns.
func (a *App) Run(ctx context.Context) error {
	if a.reconciler == nil {
		return fmt.Errorf("app is not set up")
	}

	a.services.Health.Start(ctx)

	if a.services.Ledger != nil {
		cleanupCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			a.runLedgerCleanup(cleanupCtx)
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	log.Info().Str("run_id", a.reconciler.RunID()).Msg("hueni started")
	return a.reconciler.Run(ctx)
}

// runLedgerCleanup prunes the ledger every retention interval until ctx is done.
func (a *App) runLedgerCleanup(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Database.RetentionInterval.Duration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.pruneLedger()
		}
	}
}

// pruneLedger deletes entries older than database.retention.
func (a *App) pruneLedger() {
	if a.services.Ledger == nil {
		return
	}
	retention := a.cfg.Database.Retention.Duration()
	deleted, err := a.services.Ledger.DeleteOlderThan(retention)
	if err != nil {
		log.Error().Err(err).Msg("Failed to clean up old ledger entries")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
	}
}

// Close releases all resources.
func (a *App) Close() {
	if a.services != nil {
		a.services.Close()
	}
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
