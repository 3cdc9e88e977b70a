package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finance-ledger/internal/auth"
	"finance-ledger/internal/cache"
	"finance-ledger/internal/config"
	"finance-ledger/internal/handlers"
	"finance-ledger/internal/ledger"
	"finance-ledger/internal/storage"
	"finance-ledger/internal/telemetry"

	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("Error loading .env file: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	shutdownTelemetry := telemetry.Setup("finance-ledger")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Options{
		Driver:  cfg.DBDriver,
		Path:    cfg.DBPath,
		DSN:     cfg.DBDSN,
		Timeout: cfg.DBTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	derived, closeCache, err := openCache(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to cache: %v", err)
	}
	defer closeCache()

	auth.PasswordCost = cfg.BcryptCost
	codec := auth.NewCodec([]byte(cfg.JWTSecret))
	accounts := ledger.NewAccounts(store, codec, cfg.AllowRoleSignup)
	if cfg.AdminEmail != "" {
		if _, err := accounts.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			log.Fatalf("Failed to create admin user: %v", err)
		}
	}

	h := handlers.NewHandlers(ledger.NewService(store, derived), accounts, codec, cfg.CookieSecure)
	router, err := setupRouter(h, cfg)
	if err != nil {
		log.Fatalf("Failed to set up router: %v", err)
	}
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// openCache connects to Redis when REDIS_URL is set and otherwise keeps
// views in process memory.
func openCache(ctx context.Context, cfg config.Config) (cache.Cache, func(), error) {
	if cfg.RedisURL == "" {
		log.Printf("REDIS_URL not set, using in-memory cache")
		return cache.NewMemory(cfg.CacheTTL), func() {}, nil
	}
	client, err := cache.Dial(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	c := cache.NewRedis(client, cache.RedisOptions{Timeout: cfg.CacheTimeout, TTL: cfg.CacheTTL})
	return c, func() { _ = client.Close() }, nil
}

// setupRouter wraps the API routes with the edge middleware. Order from the
// outside in: tracing, logging, rate limiting, CORS.
func setupRouter(h *handlers.Handlers, cfg config.Config) (http.Handler, error) {
	limiter, err := handlers.NewRateLimiter(handlers.RateLimitConfig{
		PerMinute:      cfg.RateLimitPerMinute,
		Burst:          cfg.RateLimitBurst,
		TrustedProxies: cfg.TrustedProxies,
	})
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", handlers.RequestIDHeader},
		ExposedHeaders:   []string{handlers.RequestIDHeader},
		AllowCredentials: true,
	})

	handler := c.Handler(h.Routes())
	handler = limiter.Middleware(handler)
	handler = handlers.LoggingMiddleware(handler)
	return otelhttp.NewHandler(handler, "finance-ledger"), nil
}
