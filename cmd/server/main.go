package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"gihan9a/docpatch/internal/config"
	"gihan9a/docpatch/internal/coordinator"
	"gihan9a/docpatch/internal/logging"
	"gihan9a/docpatch/internal/server"
	"gihan9a/docpatch/internal/store"
	"gihan9a/docpatch/internal/tls"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		color.Red("docpatch: %v", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse command line flags and get configuration
	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return fmt.Errorf("parsing configuration: %w", err)
	}

	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Options{
		Driver: cfg.Store.Driver,
		Path:   cfg.Store.Path,
		Redis: store.RedisOptions{
			Addr:      cfg.Store.RedisAddr,
			Password:  cfg.Store.RedisPassword,
			DB:        cfg.Store.RedisDB,
			KeyPrefix: cfg.Store.RedisKeyPrefix,
		},
		Postgres: store.PostgresOptions{
			DSN:   cfg.Store.PostgresDSN,
			Table: cfg.Store.PostgresTable,
		},
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	coord := coordinator.New(st, coordinator.Options{
		MaxAttempts:    cfg.Patch.MaxAttempts,
		InitialBackoff: cfg.Patch.InitialBackoff,
		MaxBackoff:     cfg.Patch.MaxBackoff,
		Logger:         log,
	})

	docServer, err := server.New(cfg, coord, log)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer docServer.Close()

	n, err := docServer.ImportDir(ctx)
	if err != nil {
		return err
	}

	if cfg.TLS.Enabled && cfg.TLS.GenerateCert {
		if err := tls.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hosts, log); err != nil {
			return fmt.Errorf("setting up TLS certificate: %w", err)
		}
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           docServer.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	scheme := "http"
	if cfg.TLS.Enabled {
		scheme = "https"
	}
	color.Green("docpatch running at %s://localhost%s", scheme, httpServer.Addr)
	color.Cyan("store: %s", cfg.Store.Driver)
	if cfg.RootDir != "" {
		color.Cyan("imported %d documents from %s (watch: %t)", n, cfg.RootDir, cfg.Watch)
	}
	if cfg.ProxyURL != nil {
		color.Yellow("proxying unknown paths to %s", cfg.ProxyURL)
	}

	errc := make(chan error, 1)
	go func() {
		if cfg.TLS.Enabled {
			errc <- httpServer.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			errc <- httpServer.ListenAndServe()
		}
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	// Subscription streams only end when their subscriptions close.
	docServer.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
