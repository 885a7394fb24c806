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
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/replicast/replicast/internal/api"
	"github.com/replicast/replicast/internal/engine"
	"github.com/replicast/replicast/internal/hooks"
	"github.com/replicast/replicast/internal/identity"
	"github.com/replicast/replicast/internal/mcpserver"
	"github.com/replicast/replicast/internal/metastore"
	"github.com/replicast/replicast/internal/notices"
	"github.com/replicast/replicast/internal/preparer"
	"github.com/replicast/replicast/internal/registry"
	"github.com/replicast/replicast/internal/storage"
	"github.com/replicast/replicast/internal/transport"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("site_url", cfg.Node.SiteURL),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("sites_path", cfg.Sites.Path),
		slog.Bool("inbound_enabled", cfg.Auth.Enabled()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure uploads directory exists.
	if err := os.MkdirAll(cfg.Node.UploadsDir, 0o755); err != nil {
		return fmt.Errorf("create uploads dir: %w", err)
	}

	files, err := storage.NewFS(cfg.Node.UploadsDir)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	db, err := metastore.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init metastore: %w", err)
	}
	defer db.Close()

	// Site registry with cached reloads from the sites file.
	sites := registry.New(cfg.Sites.Path, cfg.Sites.CacheTTL(), logger)
	if err := sites.Reload(); err != nil {
		logger.Warn("initial sites load failed", slog.String("error", err.Error()))
	}

	client := transport.New(transport.Options{
		Timeout:   cfg.Dispatch.Timeout(),
		Algorithm: cfg.Dispatch.Algorithm,
		CacheTTL:  cfg.Sites.CacheTTL(),
		IncludeIP: cfg.Dispatch.IncludeIP,
		SourceIP:  cfg.Dispatch.SourceIP,
	}, logger)
	// A reloaded sites file may carry changed credentials or URLs; cached
	// per-site clients and breakers must not outlive them.
	sites.OnReload(client.InvalidateAll)

	idmap := identity.New(db)

	pipeline := hooks.NewPipeline()
	for _, register := range app.transforms {
		register(pipeline)
	}

	prep := preparer.New(idmap, pipeline, logger)
	snapshots := metastore.NewSnapshotBuilder(db, cfg.Node.SiteURL)

	sink := notices.NewSink(cfg.Notices.TTL())
	defer sink.Close()

	eng := engine.New(engine.Deps{
		Registry:  sites,
		Identity:  idmap,
		Preparer:  prep,
		Transport: client,
		Notices:   sink,
		Snapshots: snapshots,
		Pipeline:  pipeline,
		Binaries:  &mediaFiles{db: db, files: files},
		Logger:    logger,
		Parallel:  cfg.Dispatch.Parallel,
		Debug:     cfg.Dispatch.Debug,
	})

	if app.mcp {
		logger.Info("Serving MCP on stdio")
		return mcpserver.New(eng, sites, idmap, sink).ServeStdio()
	}

	// Inbound replica API.
	svc := api.NewService(db, files, cfg.Node.SiteURL)
	inbound := api.Router(api.NewHandler(svc, logger), api.AuthOptions{
		Enabled:   cfg.Auth.Enabled(),
		APIKey:    cfg.Auth.APIKey,
		APISecret: cfg.Auth.APISecret,
		Algorithm: cfg.Auth.Algorithm,
		Freshness: cfg.Auth.Freshness(),
		IncludeIP: cfg.Auth.IncludeIP,
	})

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
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	// Notices: the flush endpoint drains a user's pending outcomes; the SSE
	// stream pushes them live.
	r.Get("/api/notices", func(w http.ResponseWriter, req *http.Request) {
		user := req.URL.Query().Get("user")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sink.Flush(user))
	})
	r.Get("/api/events", sink.ServeHTTP)

	r.Mount("/replicast/v1", inbound)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Watch the sites file so registry edits take effect without a restart.
	g.Go(func() error {
		if err := sites.Watch(gCtx); err != nil {
			logger.Warn("sites watcher stopped", slog.String("error", err.Error()))
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

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// mediaFiles supplies attachment bytes from the uploads directory, keyed by
// the attachment's stored filename.
type mediaFiles struct {
	db    metastore.Store
	files storage.Provider
}

func (m *mediaFiles) Binary(ctx context.Context, mediaID int64) (*engine.Binary, error) {
	row, err := m.db.GetObject(mediaID)
	if err != nil {
		return nil, err
	}
	name := row.Slug
	if name == "" {
		name = row.Title
	}
	if name == "" || !m.files.Exists(name) {
		// No stored file; the attachment replicates as metadata only.
		return nil, nil
	}
	data, err := m.files.Read(name)
	if err != nil {
		return nil, err
	}
	return &engine.Binary{Filename: name, ContentType: row.MimeType, Data: data}, nil
}
