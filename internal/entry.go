// Package internal provides the main application initialization and runtime logic.
package internal

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/extt/internal/api"
	"github.com/starford/extt/internal/autosave"
	"github.com/starford/extt/internal/index"
	"github.com/starford/extt/internal/mcpserver"
	"github.com/starford/extt/internal/noteservice"
	"github.com/starford/extt/internal/sse"
	"github.com/starford/extt/pkg/markdown"
)

const shutdownTimeout = 10 * time.Second

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if app.logger == nil {
		app.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: app.config.App.LogLevel,
		}))
	}
	return app, nil
}

// newSaver debounces document saves and reports every outcome on the
// broker. It returns nil when autosave is disabled.
func newSaver(cfg EditorConfig, svc *noteservice.Service, broker *sse.Broker, logger *slog.Logger) *autosave.Saver {
	if !cfg.AutosaveEnabled() {
		return nil
	}
	write := func(ctx context.Context, path string, doc markdown.Document) error {
		note, err := svc.SaveDocument(ctx, path, doc, "")
		if err != nil {
			return err
		}
		broker.PublishDocumentSaved(path, note.Checksum, nil)
		return nil
	}
	return autosave.New(write,
		autosave.WithDelay(cfg.AutosaveDelay),
		autosave.WithLogger(logger),
		autosave.WithResult(func(path string, err error) {
			if err != nil {
				broker.PublishDocumentSaved(path, "", err)
			}
		}),
	)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()),
		slog.Duration("autosave_delay", cfg.Editor.AutosaveDelay))

	vault, err := OpenVault(cfg, logger)
	if err != nil {
		return err
	}
	defer vault.Close()

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	saver := newSaver(cfg.Editor, vault.Service, broker, logger)
	apiRouter := api.NewRouter(api.NewHandler(vault.Service, saver), cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", healthHandler)
	r.Get("/health/ready", healthHandler)

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher with SSE callback.
	g.Go(func() error {
		return index.Watch(gCtx, vault.DB, vault.Store, vault.Store.Root(), logger, broker.PublishNoteEvent)
	})

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

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		// Pending documents are written after the last request has finished.
		if saver != nil {
			if err := saver.Close(shutdownCtx); err != nil {
				logger.Error("autosave flush error", slog.String("error", err.Error()))
			}
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the vault over MCP on stdin/stdout. Logs must not go to
// stdout, so the default logger writes text to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))}, opts...)
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger

	vault, err := OpenVault(app.config, logger)
	if err != nil {
		return err
	}
	defer vault.Close()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return index.Watch(gCtx, vault.DB, vault.Store, vault.Store.Root(), logger, nil)
	})
	g.Go(func() error {
		if err := mcpserver.New(vault.Service, vault.Store, app.version).ServeStdio(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		// stdin closed: stop the watcher too.
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		return err
	}
	return nil
}
