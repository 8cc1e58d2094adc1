// Command engine runs the live trading server: the Control API plus
// the instance manager, broker adapter, event bus and circuit breaker
// manager, wired up in the order event bus -> adapters -> instance
// manager -> HTTP server -> graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/bikeshrana/pi5-trading-engine/internal/api"
	"github.com/bikeshrana/pi5-trading-engine/internal/backtest"
	"github.com/bikeshrana/pi5-trading-engine/internal/broker"
	"github.com/bikeshrana/pi5-trading-engine/internal/circuitbreaker"
	"github.com/bikeshrana/pi5-trading-engine/internal/config"
	"github.com/bikeshrana/pi5-trading-engine/internal/core/events"
	"github.com/bikeshrana/pi5-trading-engine/internal/instance"
	"github.com/bikeshrana/pi5-trading-engine/internal/metrics"
	"github.com/bikeshrana/pi5-trading-engine/internal/store"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "engine",
		Short: "pi5 trading engine",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the Control API and live instance runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to config.yaml")
	root.AddCommand(serveCmd)

	return root
}

func serve(configPath string) error {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("pi5 trading engine starting")

	if err := failFastChecks(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	bus := events.New(cfg.Engine.EventBusBufferSize, logger)
	defer bus.Close()

	st, err := store.New(cfg.Store.DataDir, logger)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}

	cbManager := circuitbreaker.NewManager(logger)
	appMetrics := metrics.New("pi5_engine")

	br := broker.NewHTTPBroker(broker.HTTPConfig{
		BaseURL:      cfg.Broker.BaseURL,
		WebSocketURL: cfg.Broker.WebSocketURL,
		Username:     cfg.Broker.Username,
		APIKey:       cfg.Broker.APIKey,
		RateLimit:    rate.Limit(cfg.Broker.RateLimit),
		RateBurst:    cfg.Broker.RateBurst,
	}, cbManager, logger)

	mgr := instance.New(br, bus, st, logger)
	if err := mgr.LoadPersisted(); err != nil {
		logger.Error().Err(err).Msg("failed to reload persisted instances")
	}
	mgr.StartPolling(ctx)
	defer mgr.StopPolling()

	executor := backtest.NewExecutor(bus, logger)

	server := api.NewServer(cfg.Server, cfg.Auth, api.Deps{
		Instances: mgr,
		Backtests: executor,
		Store:     st,
		Broker:    br,
		Bus:       bus,
		Metrics:   appMetrics,
	}, logger)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-serverErrChan:
		logger.Error().Err(err).Msg("control API server error")
		return err
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error shutting down control API")
	}

	for id := range indexInstances(mgr) {
		if err := mgr.StopInstance(id); err != nil {
			logger.Error().Err(err).Str("instance_id", id).Msg("error stopping instance during shutdown")
		}
	}

	return nil
}

func indexInstances(mgr *instance.Manager) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, cfg := range mgr.GetAllInstances() {
		ids[cfg.ID] = struct{}{}
	}
	return ids
}

// failFastChecks enforces spec §6's startup invariants: the Control
// API must not bind to a non-local address, the configured port must
// be free, and the document store's data directory must be usable.
func failFastChecks(cfg *config.Config) error {
	if cfg.Server.Host != "127.0.0.1" && cfg.Server.Host != "localhost" && cfg.Server.Host != "::1" {
		return fmt.Errorf("fail-fast: server.host %q is not a local bind address", cfg.Server.Host)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("fail-fast: port %d is unavailable: %w", cfg.Server.Port, err)
	}
	_ = ln.Close()

	if err := os.MkdirAll(filepath.Clean(cfg.Store.DataDir), 0o755); err != nil {
		return fmt.Errorf("fail-fast: data directory %q is not usable: %w", cfg.Store.DataDir, err)
	}

	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
