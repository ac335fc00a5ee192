package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/justlinks/internal/articles"
	"github.com/MGallo-Code/justlinks/internal/auth"
	"github.com/MGallo-Code/justlinks/internal/config"
	"github.com/MGallo-Code/justlinks/internal/pocket"
	"github.com/MGallo-Code/justlinks/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

func main() {
	// A .env file is optional; real env vars always win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not read .env", "err", err)
	}

	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// handlers groups everything buildRouter mounts.
type handlers struct {
	auth     *auth.AuthHandler
	health   *auth.HealthHandler
	articles *articles.Handler
}

// run holds all server logic and returns error instead of calling os.Exit.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()

	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// One Redis pool shared by the session store and the rate limiter.
	rdb, err := store.NewRedisClient(ctx, cfg.RedisURL, store.RedisOptions{
		PoolSize:    cfg.RedisPoolSize,
		PoolTimeout: cfg.RedisPoolTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to set up redis client: %w", err)
	}
	defer rdb.Close()

	rs := store.NewRedisStore(rdb)
	rl := store.NewRedisRateLimiter(rdb)

	pc := pocket.NewClient(pocket.Config{
		ConsumerKey:  cfg.PocketConsumerKey,
		RedirectURI:  cfg.PocketRedirectURI,
		BaseURL:      cfg.PocketBaseURL,
		AuthorizeURL: cfg.PocketAuthorizeURL,
		Timeout:      cfg.AuthorityTimeout,
	})

	h := handlers{
		auth: &auth.AuthHandler{
			Handshake: &auth.Handshake{
				Sessions:         rs,
				Authority:        pc,
				Users:            ps,
				Keys:             cfg.HandshakeKeys,
				Issuer:           cfg.HandshakeIssuer,
				PendingTTL:       cfg.PendingSessionTTL,
				SessionTTL:       cfg.SessionTTL,
				AuthorityTimeout: cfg.AuthorityTimeout,
			},
			Sessions:    rs,
			RL:          rl,
			AuthnPolicy: store.RateLimit{MaxAttempts: cfg.RateAuthnMax, Window: cfg.RateAuthnWindow},
			Cookie: auth.CookieConfig{
				Name:   cfg.CookieName,
				Domain: cfg.CookieDomain,
				TTL:    cfg.SessionTTL,
			},
		},
		health: &auth.HealthHandler{Postgres: ps, Redis: rs},
		articles: &articles.Handler{
			Retriever: pc,
			Sink:      ps,
			Users:     ps,
		},
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{
		Handler:           buildRouter(h, corsOrigins(cfg)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("justlinks listening", "addr", ln.Addr().String())
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Stops accepting, then waits for in-flight requests (including sync streams).
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// corsOrigins lists the browser origins allowed to call the API with credentials.
// Pocket's own site is included because it redirects back to the client.
func corsOrigins(cfg *config.Config) []string {
	origins := []string{"https://getpocket.com"}
	if cfg.UserAgentURL != "" {
		origins = append(origins, cfg.UserAgentURL)
	}
	return origins
}

// buildRouter wires all routes and middleware.
// Called from run() and directly by smoke tests.
func buildRouter(h handlers, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Location"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Request/response routes get a hard deadline; the sync stream does not.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/health-check", h.health.CheckHealth)
		r.Post("/auth/authn", h.auth.Authn)
		r.Post("/auth/authz", h.auth.Authz)
		r.Get("/auth/session", h.auth.GetSession)
		r.Post("/auth/logout", h.auth.Logout)

		r.With(h.auth.RequireSession).Get("/articles", h.articles.List)
	})

	r.With(h.auth.RequireSession).Post("/articles/sync", h.articles.Sync)

	return r
}
