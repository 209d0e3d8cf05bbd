// Portfolio contact bot server
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/mihretab/portfolio/internal/api"
	"github.com/mihretab/portfolio/internal/chat"
	"github.com/mihretab/portfolio/internal/config"
	"github.com/mihretab/portfolio/internal/identity"
	"github.com/mihretab/portfolio/internal/middleware"
	"github.com/mihretab/portfolio/internal/relay"
	"github.com/mihretab/portfolio/internal/session"
	"github.com/mihretab/portfolio/internal/store"
	"github.com/mihretab/portfolio/web"
	"golang.org/x/sync/errgroup"
)

func newLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if os.Getenv("LOG_LEVEL") == "debug" {
		opts.Level = slog.LevelDebug
	}
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func main() {
	logger := newLogger()
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	script, err := chat.LoadScript(cfg.Contact.BotScriptPath)
	if err != nil {
		return err
	}

	relayClient := relay.NewClient(cfg.Contact.FormEndpoint, cfg.Contact.SubmitTimeout, logger)
	slog.Info("Form relay configured", "endpoint", relayClient.Endpoint(), "timeout", cfg.Contact.SubmitTimeout)

	conversationLogger, err := session.NewConversationLogger(session.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	hub := session.NewHub(session.Options{
		Script:                     script,
		Submitter:                  relayClient,
		TypingDelay:                cfg.Contact.TypingDelay,
		ReducedMotionDefault:       cfg.Contact.ReducedMotionDefault,
		Repo:                       repo,
		ConversationLog:            conversationLogger,
		MaxConversations:           cfg.Conversation.MaxMounted,
		MaxConversationsPerVisitor: cfg.Conversation.MaxPerVisitor,
	}, logger)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, hub, relayClient)
	chatHandler := api.NewChatHandler(baseHandler)
	contactHandler := api.NewContactHandler(baseHandler)
	healthHandler := api.NewHealthHandler(baseHandler)
	wsHandler := session.NewWebSocketHandler(hub, limiter, cfg.AllowedOrigins, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	healthHandler.RegisterRoutes(r)

	// Keyed on the client IP: a client that drops its cookie gets a new
	// visitor ID on every request, but not a new address.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(limiter, identity.IPFromRequest))
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

		r.Get("/ws/chat", wsHandler.ServeHTTP)
		chatHandler.RegisterRoutes(r)
		contactHandler.RegisterRoutes(r)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Websocket connections are long lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return session.RunSweeper(egCtx, hub, repo, session.SweepConfig{
			Interval:  cfg.Conversation.SweepInterval,
			IdleTTL:   cfg.Conversation.IdleTTL,
			Retention: cfg.Conversation.RecordRetention,
		})
	})

	eg.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
		hub.CloseAll()
		return err
	})

	return eg.Wait()
}
