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

	"github.com/spf13/cobra"

	"gestureguard/internal/api"
	"gestureguard/internal/config"
	"gestureguard/internal/guard"
	"gestureguard/internal/health"
)

var (
	serveAddr  string
	serveWatch bool
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&serveWatch, "watch", true, "reload detection thresholds when the config file changes")
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	prober := newProber(a.cfg.Biometrics, a.log)
	mon, err := a.monitor(prober)
	if err != nil {
		return err
	}

	checker := health.NewChecker()
	checker.RegisterFunc("database", true, health.DatabaseCheck(a.db.Ping))
	checker.RegisterFunc("artifacts", true, health.ArtifactStoreCheck(a.artifacts))
	checker.RegisterFunc("biometrics", false, health.AvailabilityCheck("biometric reader", prober.Available))

	if serveWatch {
		watchConfig(ctx, a, mon)
	}
	go func() {
		tick := time.NewTicker(15 * time.Second)
		defer tick.Stop()
		for {
			a.metrics.UpdateUptime()
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}
		}
	}()

	addr := a.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewServer(api.Options{
			Guard:        mon,
			Health:       checker,
			Metrics:      a.metrics.Registry(),
			Logger:       a.log,
			MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
		}),
		ReadTimeout:  time.Duration(a.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(a.cfg.Server.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	checker.SetReady(true)
	a.log.Info("listening", "addr", addr, "artifacts", a.cfg.Artifacts.Backend)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	}

	checker.SetReady(false)
	a.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(a.cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()

	if err := mon.Logout(shutdownCtx); err != nil {
		a.log.Warn("closing active session failed", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}

// watchConfig applies detection changes from the config file while serving.
// Other sections need a restart.
func watchConfig(ctx context.Context, a *app, mon *guard.Monitor) {
	a.loader.OnChange(func(old, updated *config.Config) {
		if old != nil && old.Detection == updated.Detection {
			return
		}
		mon.UpdateThresholds(updated.Detection)
	})
	if err := a.loader.Watch(); err != nil {
		a.log.Warn("config watch disabled", "path", a.loader.Path(), "error", err)
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-a.loader.Errors():
				a.log.Warn("config reload rejected", "path", a.loader.Path(), "error", err)
			}
		}
	}()
}
