package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	configloader "github.com/pbarone/meetingtranscribermacos/external/config"
	credentialimpl "github.com/pbarone/meetingtranscribermacos/external/credential"
	"github.com/pbarone/meetingtranscribermacos/external/device"
	publisherimpl "github.com/pbarone/meetingtranscribermacos/external/publisher"
	repositoryimpl "github.com/pbarone/meetingtranscribermacos/external/repository"
	transcriberimpl "github.com/pbarone/meetingtranscribermacos/external/transcriber"
	webhookimpl "github.com/pbarone/meetingtranscribermacos/external/webhook"
	"github.com/pbarone/meetingtranscribermacos/internal/audio"
	"github.com/pbarone/meetingtranscribermacos/internal/config"
	"github.com/pbarone/meetingtranscribermacos/internal/credential"
	"github.com/pbarone/meetingtranscribermacos/internal/metrics"
	"github.com/pbarone/meetingtranscribermacos/internal/recorder"
	"github.com/pbarone/meetingtranscribermacos/internal/session"
	"github.com/pbarone/meetingtranscribermacos/internal/transcript"
	"github.com/samber/do/v2"
)

const (
	credentialWaitTimeout = 30 * time.Second
	shutdownTimeout       = 10 * time.Second
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "provider", cfg.TranscriberProvider)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: starting recorder")
	run(cfg, injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	metrics.RegisterDI(injector)
	device.RegisterDI(injector)
	credentialimpl.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	repositoryimpl.RegisterDI(injector)
	publisherimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	audio.RegisterDI(injector)
	transcript.RegisterDI(injector)
	session.RegisterDI(injector)
	recorder.RegisterDI(injector)

	return injector
}

func mustInvoke[T any](injector do.Injector, name string) T {
	v, err := do.Invoke[T](injector)
	if err != nil {
		slog.Error("failed to resolve "+name, "error", err)
		os.Exit(1)
	}
	return v
}

func run(cfg *config.Config, injector do.Injector) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coordinator := mustInvoke[*credential.Coordinator](injector, "credential coordinator")
	registry := mustInvoke[*device.Registry](injector, "device registry")
	manager := mustInvoke[*session.Manager](injector, "session manager")
	rec := mustInvoke[*recorder.Service](injector, "recorder")
	mt := mustInvoke[*metrics.Metrics](injector, "metrics")

	coordinator.Subscribe(func(c credential.Credentials) {
		manager.NotifyCredentialRefresh(c.ExpiresAt)
	})
	go func() {
		if err := coordinator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("credential refresh stopped", "error", err)
		}
	}()
	go func() {
		if err := registry.Watch(ctx); err != nil {
			slog.Error("device watcher stopped", "error", err)
		}
	}()

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(mt), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("metrics server listening", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", "error", err)
		}
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, credentialWaitTimeout)
	creds, err := coordinator.Wait(waitCtx)
	waitCancel()
	if err != nil {
		slog.Error("no credentials available", "error", err)
		os.Exit(1)
	}
	slog.Info("startup: credentials ready", "expires_at", creds.ExpiresAt)

	h, err := rec.Start(ctx)
	if err != nil {
		slog.Error("failed to start recording", "error", err)
		os.Exit(1)
	}
	slog.Info("startup: recording", "session_id", h.ID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			slog.Info("manual reconnect requested")
			rec.ManualReconnect()
			continue
		}
		slog.Info("shutting down", "signal", sig.String())
		break
	}

	if err := rec.Stop(); err != nil && !errors.Is(err, recorder.ErrNotRunning) {
		slog.Error("failed to stop recorder", "error", err)
	}
}

func metricsMux(mt *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mt.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
