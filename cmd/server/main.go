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

	"golang.org/x/sync/errgroup"

	"veriflow/internal/backend"
	"veriflow/internal/notify"
	"veriflow/internal/platform/config"
	"veriflow/internal/platform/httpserver"
	"veriflow/internal/platform/logger"
	"veriflow/internal/provider"
	httptransport "veriflow/internal/transport/http"
	"veriflow/internal/verification/admission"
	"veriflow/internal/verification/callback"
	"veriflow/internal/verification/ledger"
	vmetrics "veriflow/internal/verification/metrics"
	"veriflow/internal/verification/reconciler"
	"veriflow/internal/verification/service"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal services packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err.Error())
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	metrics := vmetrics.New()

	led, err := ledger.New(cfg.Ledger.Path,
		ledger.WithLogger(log),
		ledger.WithMaxAge(cfg.Ledger.MaxAge),
		ledger.WithMetrics(metrics),
	)
	if err != nil {
		log.Error("failed to build ledger", "error", err.Error())
		os.Exit(1)
	}
	if err := led.Load(); err != nil {
		log.Error("failed to hydrate ledger", "error", err.Error())
		os.Exit(1)
	}

	providerClient, err := provider.New(provider.Config{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Timeout: cfg.Provider.Timeout,
	}, provider.WithLogger(log))
	if err != nil {
		log.Error("failed to build provider client", "error", err.Error())
		os.Exit(1)
	}

	backendClient, err := backend.New(backend.Config{
		BaseURL:  cfg.Backend.BaseURL,
		Username: cfg.Backend.Username,
		Password: cfg.Backend.Password,
		Timeout:  cfg.Backend.Timeout,
	}, backend.WithLogger(log))
	if err != nil {
		log.Error("failed to build backend client", "error", err.Error())
		os.Exit(1)
	}

	notifier, err := notify.New(notify.Config{
		BaseURL: cfg.Chat.BaseURL,
		Token:   cfg.Chat.Token,
		Timeout: cfg.Chat.Timeout,
	}, notify.WithLogger(log))
	if err != nil {
		log.Error("failed to build notifier", "error", err.Error())
		os.Exit(1)
	}

	gate, err := admission.New(backendClient, cfg.Admission.DailyCeiling, admission.WithLogger(log))
	if err != nil {
		log.Error("failed to build admission gate", "error", err.Error())
		os.Exit(1)
	}

	rec, err := reconciler.New(providerClient, notifier,
		reconciler.WithLogger(log),
		reconciler.WithMetrics(metrics),
		reconciler.WithDelays(cfg.Reconciler.GraceDelay, cfg.Reconciler.BaseDelay),
		reconciler.WithMaxAttempts(cfg.Reconciler.MaxAttempts),
	)
	if err != nil {
		log.Error("failed to build reconciler", "error", err.Error())
		os.Exit(1)
	}

	processor, err := callback.New(led, backendClient, notifier, rec,
		callback.WithLogger(log),
		callback.WithMetrics(metrics),
		callback.WithReviewNotifyPolicy(callback.ReviewNotifyPolicy(cfg.Callback.ReviewNotice)),
	)
	if err != nil {
		log.Error("failed to build callback processor", "error", err.Error())
		os.Exit(1)
	}

	coordinator, err := service.New(led, providerClient, backendClient, gate, rec, processor,
		service.WithLogger(log),
		service.WithMetrics(metrics),
	)
	if err != nil {
		log.Error("failed to build coordinator", "error", err.Error())
		os.Exit(1)
	}

	sweeper, err := service.NewSweeper(led, notifier, rec, cfg.Ledger.MaxAge,
		service.WithSweepInterval(cfg.Sweep.Interval),
		service.WithSweepLogger(log),
		service.WithSweepMetrics(metrics),
	)
	if err != nil {
		log.Error("failed to build sweeper", "error", err.Error())
		os.Exit(1)
	}

	handler := httptransport.NewHandler(coordinator, processor, cfg.AdminToken, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting veriflow", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := sweeper.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err.Error())
	}

	// Final durability barrier: the last in-memory ledger state must reach
	// storage before exit. In-flight reconciliations are not waited for.
	if err := led.Close(); err != nil {
		log.Error("final ledger flush failed", "error", err.Error())
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
