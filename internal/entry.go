// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/toltec-astro/dvpipe/internal/api"
	"github.com/toltec-astro/dvpipe/internal/sse"
)

// Run starts the HTTP service with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.App.LogLevel,
		}))
	}
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("index_dir", cfg.Work.IndexDir),
		slog.String("project_parent", cfg.Project.ParentPath),
		slog.String("dataverse", cfg.Dataverse.BaseURL),
		slog.String("log_level", cfg.App.LogLevel.String()))

	comps, err := Build(cfg, logger)
	if err != nil {
		return err
	}
	defer comps.Close()

	// Bring the indices up to date before serving.
	if comps.Runner != nil {
		n, err := comps.Runner.CreateIndices(ctx)
		if err != nil {
			logger.Warn("initial indexing failed", slog.String("error", err.Error()))
		}
		logger.Info("initial indexing done", slog.Int("projects", n))
	}

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           newHandler(cfg, comps, broker),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(runCtx)

	if comps.Runner != nil && cfg.Project.Watch {
		g.Go(func() error {
			err := comps.Runner.Watch(gCtx, cfg.Project.Debounce, broker.PublishProjectEvent)
			if err != nil {
				logger.Error("project watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		stop()

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// newHandler mounts the API under /api next to the unauthenticated health
// routes.
func newHandler(cfg *Config, comps *Components, broker *sse.Broker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	// Ready once the index store answers.
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		summaries, err := comps.Service.Indices(req.Context())
		if err != nil {
			writeHealth(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
		writeHealth(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"indices":   len(summaries),
			"dataverse": comps.Client != nil,
			"watching":  comps.Runner != nil && cfg.Project.Watch,
		})
	})

	r.Mount("/api", api.NewRouter(comps.Service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, broker))
	return r
}

func writeHealth(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
