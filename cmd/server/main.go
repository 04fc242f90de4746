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

	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"authguard/internal/platform/config"
	"authguard/internal/platform/logger"
)

// main wires the guards, exposes the HTTP router and runs the background
// workers until SIGINT or SIGTERM. Guard logic lives in internal packages.
func main() {
	configPath := pflag.StringP("config", "c", "", "optional config file (yaml, json or toml)")
	pflag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "authguard:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	v, err := config.New(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, v, log)
	if err != nil {
		return err
	}
	defer app.close()

	log.Info("initializing authguard",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"store", app.storeKind,
		"upstream", cfg.UpstreamURL != "",
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           otelhttp.NewHandler(app.router(), "authguard"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return ignoreCanceled(app.sweeper.Start(gctx))
	})
	if app.redis != nil {
		g.Go(func() error {
			return ignoreCanceled(app.recordPoolStats(gctx, cfg.PoolStatsInterval))
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// ignoreCanceled treats shutdown of a worker as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
