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

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/adapter/handler"
	"github.com/rl1809/stock-ledger/internal/adapter/ledgerclient"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/platform/observability"
)

const (
	readTimeout = 5 * time.Second
	idleTimeout = 60 * time.Second
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadGatewayConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	obs, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup observability: %v\n", err)
		os.Exit(1)
	}
	logger := obs.Logger

	tracer := otel.Tracer(config.GatewayServiceName)
	client := ledgerclient.New(cfg.LedgerURL, cfg.LedgerTimeout, logger)
	inventory := service.NewInventoryService(client, logger, tracer)

	mux := http.NewServeMux()
	handler.NewGatewayHandler(inventory, logger).Register(mux)

	httpServer := &http.Server{
		Addr:        cfg.Addr,
		Handler:     handler.Instrument(mux, tracer, logger),
		ReadTimeout: readTimeout,
		// Leave room for a full ledger call before the response is cut.
		WriteTimeout: cfg.LedgerTimeout + 5*time.Second,
		IdleTimeout:  idleTimeout,
	}

	go func() {
		logger.Info("gateway HTTP server listening",
			zap.String("addr", cfg.Addr),
			zap.String("ledger_url", cfg.LedgerURL),
			zap.Duration("ledger_timeout", cfg.LedgerTimeout),
		)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
			cancel()
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	if err := obs.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to shutdown observability: %v\n", err)
	}
}
