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

	"github.com/rl1809/stock-ledger/internal/adapter/events"
	"github.com/rl1809/stock-ledger/internal/adapter/handler"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/platform/observability"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	readTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
)

type ledgerStore interface {
	port.LedgerRepository
	port.CatalogRepository
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadLedgerConfig()
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

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open ledger store", zap.String("store", cfg.Store), zap.Error(err))
	}
	logger.Info("ledger store ready", zap.String("store", cfg.Store))

	publisher, err := openPublisher(cfg, obs, logger)
	if err != nil {
		logger.Fatal("failed to open event publisher", zap.String("broker", cfg.EventsBroker), zap.Error(err))
	}

	tracer := otel.Tracer(config.LedgerServiceName)
	ledger := service.NewLedgerService(store, store, publisher, logger, tracer,
		service.WithPublishTimeout(cfg.PublishTimeout))

	mux := http.NewServeMux()
	handler.NewLedgerHandler(ledger, logger).Register(mux)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler.Instrument(mux, tracer, logger),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	go func() {
		logger.Info("ledger HTTP server listening", zap.String("addr", cfg.Addr))
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

	ledger.Close()
	if err := publisher.Close(); err != nil {
		logger.Error("failed to close event publisher", zap.Error(err))
	}
	closeStore()
	logger.Info("connections closed")

	if err := obs.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to shutdown observability: %v\n", err)
	}
}

func openStore(ctx context.Context, cfg *config.Ledger, logger *zap.Logger) (ledgerStore, func(), error) {
	switch cfg.Store {
	case config.StoreMySQL:
		db, err := storage.ConnectMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, nil, err
		}
		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return adapter, func() { db.Close() }, nil

	case config.StorePostgres:
		pool, err := storage.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		adapter := storage.NewPostgresAdapter(pool, logger)
		if err := adapter.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return adapter, pool.Close, nil

	case config.StoreRedis:
		client, err := storage.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewRedisAdapter(client), func() { client.Close() }, nil

	default:
		logger.Warn("using in-memory store, run a single ledger instance only")
		return storage.NewMemoryStore(), func() {}, nil
	}
}

func openPublisher(cfg *config.Ledger, obs *observability.Providers, logger *zap.Logger) (port.EventPublisher, error) {
	switch cfg.EventsBroker {
	case events.BrokerNATS:
		return events.ConnectNATS(cfg.NATSURL, cfg.EventsTopic, logger)
	case events.BrokerKafka:
		writer, err := events.NewTracedKafkaWriter(cfg.KafkaBroker, cfg.EventsTopic, obs.TracerProvider)
		if err != nil {
			return nil, err
		}
		return events.NewKafkaPublisher(writer, cfg.EventsTopic, logger), nil
	default:
		return events.NoopPublisher{}, nil
	}
}
