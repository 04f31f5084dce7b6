package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MimeLyc/webp-autogen/internal/config"
	"github.com/MimeLyc/webp-autogen/internal/hooks"
	"github.com/MimeLyc/webp-autogen/internal/htaccess"
	"github.com/MimeLyc/webp-autogen/internal/httpapi"
	"github.com/MimeLyc/webp-autogen/internal/imaging"
	"github.com/MimeLyc/webp-autogen/internal/jobs"
	"github.com/MimeLyc/webp-autogen/internal/persistence"
	"github.com/MimeLyc/webp-autogen/internal/service"
	"github.com/MimeLyc/webp-autogen/pkg/log"
	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
	keepRuns        = 1000
)

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronRunner interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin server, upload workers and periodic sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(runCtx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	if err := os.MkdirAll(cfg.System.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	lock := flock.New(filepath.Join(cfg.System.DataDir, "webp-autogen.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another webp-autogen server is already running")
	}
	defer lock.Unlock()

	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return err
	}
	defer store.Close()
	if pruned, err := store.PruneRuns(ctx, keepRuns); err != nil {
		log.Warn("Failed to prune batch runs: %v", err)
	} else if pruned > 0 {
		log.Info("Pruned %d old batch run(s)", pruned)
	}

	settings, err := config.OpenRuntimeSettingsStore(cfg.System.SettingsFile, config.RuntimeSettings{Quality: cfg.Convert.DefaultQuality})
	if err != nil {
		return err
	}
	current, err := settings.GetRuntimeSettings()
	if err != nil {
		return err
	}

	encoder, err := imaging.NewEncoder(cfg.Convert.Encoder, cfg.Convert.CwebpPath)
	if err != nil {
		return service.WrapError(err, service.ErrConfig, "create encoder")
	}

	cronEngine := cron.New()
	svc := service.New(*cfg, current, encoder,
		service.WithQueue(jobs.NewQueue(cfg.Convert.UploadWorkers, store)),
		service.WithRunStore(store),
		service.WithCron(cronEngine),
	)
	reg := hooks.NewRegistry()
	if err := svc.RegisterHooks(reg); err != nil {
		return err
	}

	res, err := htaccess.Install(cfg.Site.HtaccessPath(), cfg.Site.ServerSoftware)
	switch {
	case err != nil:
		log.Warn("Rewrite rules not installed: %v", err)
	case res.Reason != "":
		log.Info("Rewrite rules not installed: %s", res.Reason)
	}

	svc.StartWorkers(ctx)
	defer svc.StopWorkers()

	srv := httpapi.NewServer(svc,
		httpapi.WithHooks(reg),
		httpapi.WithRuntimeSettingsStore(settings),
		httpapi.WithAdminSecret(cfg.HTTP.AdminJWTSecret),
	)
	log.Info("Serving uploads from %s with the %s encoder at quality %d", cfg.Uploads.Dir, encoder.Name(), current.Quality)
	return runWithComponents(ctx, cfg, svc, cronEngine, srv)
}

// runWithComponents schedules the sweep, starts cron and serves HTTP until
// ctx is done or the server fails.
func runWithComponents(ctx context.Context, cfg *config.Config, sched scheduler, cronEngine cronRunner, httpSrv httpServer) error {
	if err := sched.Schedule(ctx); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	cronEngine.Start()
	defer func() {
		done := cronEngine.Stop().Done()
		if done == nil {
			return
		}
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			log.Warn("Sweep still running at shutdown")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		errCh <- httpSrv.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		log.Info("Server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
