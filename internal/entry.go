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
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/embedmark/internal/api"
	"github.com/starford/embedmark/internal/checksum"
	"github.com/starford/embedmark/internal/embed"
	"github.com/starford/embedmark/internal/index"
	"github.com/starford/embedmark/internal/mcpserver"
	"github.com/starford/embedmark/internal/pageservice"
	"github.com/starford/embedmark/internal/render"
	"github.com/starford/embedmark/internal/site"
	"github.com/starford/embedmark/internal/sse"
	"github.com/starford/embedmark/internal/storage"
	"github.com/starford/embedmark/internal/wikilink"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{mode: ModeBuild, version: "dev"}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	if app.logOut == nil {
		app.logOut = os.Stdout
		if app.mode == ModeMCP {
			app.logOut = os.Stderr
		}
	}
	logger := newLogger(app.logOut, cfg.App.LogFormat, cfg.App.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("mode", string(app.mode)),
		slog.String("content_path", cfg.Content.Path),
		slog.String("output_path", cfg.Content.Output),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	for _, dir := range []string{cfg.Content.Path, cfg.Content.Output} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	source, err := storage.NewFS(cfg.Content.Path)
	if err != nil {
		return fmt.Errorf("init content storage: %w", err)
	}
	output, err := storage.NewFS(cfg.Content.Output)
	if err != nil {
		return fmt.Errorf("init output storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	defer db.Close()

	renderer := render.New(newTransformer(cfg, logger),
		render.WithLinkResolver(render.IndexResolver{Pages: db}),
		render.WithUnsafeHTML(cfg.Render.UnsafeHTML),
		render.WithLogger(logger),
	)
	svc := pageservice.NewService(db, renderer)

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	builder := site.NewBuilder(renderer, db, source, output,
		site.WithSite(cfg.Site.Title, cfg.Site.BaseURL),
		site.WithFingerprint(buildFingerprint(cfg)),
		site.WithWorkers(cfg.Render.BuildWorkers),
		site.WithLogger(logger),
		site.WithListener(broker),
	)

	start := time.Now()
	stats, err := builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("initial build: %w", err)
	}
	logger.Info("Site built",
		slog.Int("built", stats.Built),
		slog.Int("skipped", stats.Skipped),
		slog.Int("removed", stats.Removed),
		slog.Int("failed", stats.Failed),
		slog.Duration("took", time.Since(start)))

	switch app.mode {
	case ModeBuild:
		if stats.Failed > 0 {
			return fmt.Errorf("build: %d pages failed", stats.Failed)
		}
		return nil
	case ModeMCP:
		logger.Info("Starting MCP server on stdio")
		return mcpserver.New(svc, app.version).ServeStdio()
	case ModeServe:
		return serve(ctx, cfg, logger, db, svc, builder, broker)
	default:
		return fmt.Errorf("unknown mode %q", app.mode)
	}
}

// newTransformer wires the embed transform from configuration.
func newTransformer(cfg *Config, logger *slog.Logger) *embed.Transformer {
	fetcher := embed.NewHTTPFetcher(
		embed.WithTimeout(cfg.Embed.FetchTimeout),
		embed.WithMaxBodyBytes(cfg.Embed.MaxBodyBytes),
		embed.WithUserAgent(cfg.Embed.UserAgent),
		embed.WithHostGuard(cfg.Embed.BlockPrivateHosts),
	)
	return embed.NewTransformer(
		embed.WithClassifier(embed.NewClassifier(cfg.Embed.InternalDomain)),
		embed.WithResolver(embed.NewResolver(fetcher, logger)),
		embed.WithSplitter(wikilink.New(cfg.Embed.ContentBaseURL, cfg.Embed.AssetPrefix)),
		embed.WithConcurrency(cfg.Embed.MaxConcurrentFetches),
		embed.WithLogger(logger),
	)
}

// buildFingerprint covers every setting besides the source text that changes
// a page's output.
func buildFingerprint(cfg *Config) string {
	return checksum.Fingerprint(
		render.LayoutFingerprint,
		cfg.Site.Title,
		cfg.Site.BaseURL,
		cfg.Embed.ContentBaseURL,
		cfg.Embed.AssetPrefix,
		cfg.Embed.InternalDomain,
		strconv.FormatBool(cfg.Render.UnsafeHTML),
	)
}

func serve(ctx context.Context, cfg *Config, logger *slog.Logger, db *index.DB,
	svc *pageservice.Service, builder *site.Builder, broker *sse.Broker) error {
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	// Everything else is the built site.
	r.Handle("/*", http.FileServer(http.Dir(cfg.Content.Output)))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Rebuild pages as sources change; events go to SSE clients.
	g.Go(func() error {
		return builder.Watch(gCtx)
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

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
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
