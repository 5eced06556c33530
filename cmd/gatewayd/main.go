package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/l18784175468-oss/77ai/internal/ai/registry"
	"github.com/l18784175468-oss/77ai/internal/auth"
	"github.com/l18784175468-oss/77ai/internal/config"
	"github.com/l18784175468-oss/77ai/internal/core"
	"github.com/l18784175468-oss/77ai/internal/history"
	"github.com/l18784175468-oss/77ai/internal/httpserver"
	"github.com/l18784175468-oss/77ai/internal/logging"
	"github.com/l18784175468-oss/77ai/internal/ratelimit"
	"github.com/l18784175468-oss/77ai/internal/settings"
	"github.com/l18784175468-oss/77ai/internal/subscription"
	subsmemory "github.com/l18784175468-oss/77ai/internal/subscription/memory"
	subspostgres "github.com/l18784175468-oss/77ai/internal/subscription/postgres"
	subssqlite "github.com/l18784175468-oss/77ai/internal/subscription/sqlite"
)

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	const maxLogBytes = int64(300 * 1024 * 1024)
	if logTarget := strings.TrimSpace(cfg.LogFile); logTarget != "" {
		rot, err := logging.NewRotatingWriter(logTarget, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		log.SetPrefix("[gatewayd] ")
		defer rot.Close()
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		log.Fatalf("open subscription store: %v", err)
	}
	defer store.Close()

	subs := subscription.NewService(store)
	hist := history.NewStore()
	set := settings.NewService()

	reg := registry.New(registry.Providers{
		OpenAI:    registry.ProviderConfig{APIKey: cfg.OpenAI.APIKey, BaseURL: cfg.OpenAI.BaseURL},
		Anthropic: registry.ProviderConfig{APIKey: cfg.Anthropic.APIKey, BaseURL: cfg.Anthropic.BaseURL},
		Google:    registry.ProviderConfig{APIKey: cfg.Google.APIKey, BaseURL: cfg.Google.BaseURL},
		Stability: registry.ProviderConfig{APIKey: cfg.Stability.APIKey, BaseURL: cfg.Stability.BaseURL},
	})

	gateway := core.NewGateway(reg, subs, hist)

	var authManager *auth.Manager
	if !cfg.AuthDisabled {
		if strings.TrimSpace(cfg.AuthSecret) == "" {
			log.Fatalf("JWT_SECRET is required unless AUTH_DISABLED=true")
		}
		authManager = auth.NewManager(cfg.AuthSecret)
	}

	server := httpserver.New(gateway, reg, subs, hist, set, authManager)
	server.SetAuthDisabled(cfg.AuthDisabled)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.Burst,
	})
	defer limiter.Close()
	server.SetRateLimiter(limiter)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("gatewayd listening on %s (storage=%s auth_disabled=%v)", addr, cfg.Storage.Driver, cfg.AuthDisabled)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen failed: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Printf("gatewayd stopped")
}

func openStore(cfg config.StorageConfig) (subscription.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return subsmemory.New(), nil
	case "sqlite":
		return subssqlite.New(cfg.Path)
	case "postgres":
		return subspostgres.New(cfg.DSN, 10, 5)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
