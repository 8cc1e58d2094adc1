// Package api implements the Control API: a chi router answering every
// instance/algorithm/backtest/historical/trading route plus a
// gorilla/websocket event stream relaying Event Bus events to connected
// dashboards.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/pi5-trading-engine/internal/backtest"
	"github.com/bikeshrana/pi5-trading-engine/internal/broker"
	"github.com/bikeshrana/pi5-trading-engine/internal/config"
	"github.com/bikeshrana/pi5-trading-engine/internal/core/events"
	"github.com/bikeshrana/pi5-trading-engine/internal/instance"
	"github.com/bikeshrana/pi5-trading-engine/internal/metrics"
	"github.com/bikeshrana/pi5-trading-engine/internal/store"
)

// Server wraps the Control API's HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	logger zerolog.Logger
	ws     *wsHub
}

// Deps bundles every collaborator the Control API's handlers need.
type Deps struct {
	Instances *instance.Manager
	Backtests *backtest.Executor
	Store     *store.Store
	Broker    broker.Broker
	Bus       *events.Bus
	Metrics   *metrics.Metrics
}

// NewServer builds the chi router and wraps it in an *http.Server bound
// to cfg.Server.
func NewServer(cfg config.ServerConfig, auth config.AuthConfig, deps Deps, logger zerolog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if deps.Metrics != nil {
		r.Use(metrics.HTTPMiddleware(deps.Metrics))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:           300,
	}))

	h := &handlers{deps: deps, logger: logger}
	ws := newWSHub(deps.Bus, deps.Instances, logger)

	r.Get("/health", h.health)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/events", ws.handleConnection)

	r.Route("/", func(r chi.Router) {
		if auth.APIKey != "" {
			r.Use(apiKeyAuth(auth.APIKey))
		}

		r.Route("/instances", func(r chi.Router) {
			r.Get("/", h.listInstances)
			r.Post("/", h.createInstance)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getInstance)
				r.Put("/", h.updateInstance)
				r.Delete("/", h.deleteInstance)
				r.Post("/start", h.startInstance)
				r.Post("/stop", h.stopInstance)
				r.Post("/pause", h.pauseInstance)
				r.Post("/resume", h.resumeInstance)
				r.Get("/state", h.getInstanceState)
				r.Get("/chart-data", h.getInstanceChartData)
				r.Get("/logs", h.getInstanceLogs)
				r.Get("/trades", h.getInstanceTrades)
			})
		})

		r.Route("/algorithms", func(r chi.Router) {
			r.Get("/", h.listAlgorithms)
			r.Post("/", h.createAlgorithm)
			r.Delete("/{name}", h.deleteAlgorithm)
		})

		r.Route("/backtests", func(r chi.Router) {
			r.Get("/", h.listBacktestDefinitions)
			r.Post("/", h.createBacktestDefinition)
			r.Get("/runs", h.listBacktestRuns)
			r.Route("/runs/{runId}", func(r chi.Router) {
				r.Get("/", h.getBacktestRun)
				r.Delete("/", h.deleteBacktestRun)
			})
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getBacktestDefinition)
				r.Put("/", h.updateBacktestDefinition)
				r.Delete("/", h.deleteBacktestDefinition)
				r.Post("/run", h.runBacktest)
				r.Post("/stop", h.stopBacktest)
				r.Get("/status", h.backtestStatus)
			})
		})

		r.Route("/historical", func(r chi.Router) {
			r.Get("/{symbol}", h.getHistoricalBars)
			r.Post("/{symbol}", h.saveHistoricalBars)
			r.Delete("/{symbol}", h.deleteHistoricalBars)
		})

		r.Route("/trading", func(r chi.Router) {
			r.Post("/test-connection", h.testConnection)
			r.Post("/subscribe-market-data", h.subscribeMarketData)
			r.Post("/unsubscribe-market-data", h.unsubscribeMarketData)
			r.Get("/accounts", h.getAccounts)
			r.Get("/contracts", h.getContracts)
			r.Get("/historical-data", h.getTradingHistoricalData)
			r.Get("/status", h.tradingStatus)
			r.Get("/server-status", h.serverStatus)
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Server{router: r, server: httpServer, logger: logger, ws: ws}
}

// Start runs the event-stream relay goroutine and blocks serving HTTP
// until the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	go s.ws.run(ctx)
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting control API")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control API: listen and serve: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return []string{"*"}
	}
	return []string{raw}
}
