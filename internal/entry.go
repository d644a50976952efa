// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/quire/internal/api"
	"github.com/starford/quire/internal/docservice"
	"github.com/starford/quire/internal/docstore"
	"github.com/starford/quire/internal/mcpserver"
	"github.com/starford/quire/internal/presence"
	"github.com/starford/quire/internal/relay"
	"github.com/starford/quire/internal/sse"
)

func setup(opts []Option) (*application, *slog.Logger, error) {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}

	var out io.Writer = os.Stdout
	if app.logOutput != nil {
		out = app.logOutput
	}

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return app, logger, nil
}

func openStore(cfg *Config, logger *slog.Logger) (*docstore.Store, error) {
	store, err := docstore.Open(cfg.Storage.Driver, cfg.Storage.Location(), logger)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	return store, nil
}

// Run starts the server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, logger, err := setup(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := docservice.NewService(store)

	// Change feed fan-out.
	broker := sse.NewBroker(cfg.Feed.ResyncThrottle)
	defer broker.Close()

	// Relay and presence hubs share one socket endpoint.
	relayHub := relay.NewHub(logger)
	defer relayHub.Close()
	presenceHub := presence.NewHub(logger)
	defer presenceHub.Close()
	relayServer := relay.NewServer(relayHub, presenceHub, logger, relay.Options{
		OrderedBuffer:   cfg.Relay.OrderedBuffer,
		CursorBuffer:    cfg.Relay.CursorBuffer,
		WriteTimeout:    cfg.Relay.WriteTimeout,
		MaxMessageBytes: cfg.Relay.MaxMessageBytes,
	})

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, api.Mounts{
		Changes: broker,
		Relay:   relayServer,
	})

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := store.LatestSeq(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Tail the change log into the broker.
	g.Go(func() error {
		err := store.Watch(gCtx, docstore.FeedOptions{
			PollInterval: cfg.Feed.PollInterval,
			Retention:    cfg.Feed.Retention,
			OnGap:        broker.PublishResync,
		}, broker.PublishChange)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("change feed error: %w", err)
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
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

		// End open change streams so Shutdown does not wait on them.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Unblocks the feed tail when the signal path triggered shutdown.
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

var errShutdown = errors.New("shutdown")

// RunMCP serves the document tools over stdio. Logs go to the configured
// log output, which must not be stdout.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, logger, err := setup(opts)
	if err != nil {
		return err
	}

	store, err := openStore(app.config, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	logger.Info("MCP server starting", slog.String("storage_driver", app.config.Storage.Driver))
	return mcpserver.New(docservice.NewService(store)).ServeStdio()
}
