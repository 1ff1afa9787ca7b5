package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kasiran/admin/internal/apiclient"
	"kasiran/admin/internal/cache"
	"kasiran/admin/internal/config"
	"kasiran/admin/internal/httpapi"
	"kasiran/admin/internal/service"
	"kasiran/admin/internal/session"
	"kasiran/admin/internal/store"
	"kasiran/admin/internal/store/memory"
	pgstore "kasiran/admin/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := apiclient.New(cfg.APIBaseURL, cfg.APITimeout())
	if err != nil {
		log.Fatalf("kasiran api client: %v", err)
	}

	var audit store.AuditRepository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory audit log", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("audit schema: %v", err)
		}
		audit = pg
		closers = append(closers, pg.Close)
		log.Println("audit log: postgres")
	} else {
		audit = memory.New()
		log.Println("audit log: in-memory")
	}

	var (
		summaries cache.SummaryCache = cache.NoopSummaryCache{}
		storage   session.Storage
	)
	if cfg.RedisAddr != "" {
		redisClient := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisSummaryCache(redisClient)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
			_ = redisClient.Close()
		} else {
			summaries = redisCache
			storage = session.NewRedisStorage(redisClient, cfg.TokenTTL())
			closers = append(closers, redisClient.Close)
			log.Println("cache: redis, sessions: redis")
		}
	} else {
		log.Println("cache: noop")
	}
	if storage == nil {
		if cfg.SessionFile != "" {
			storage = session.NewFileStorage(cfg.SessionFile)
			log.Printf("sessions: file %s", cfg.SessionFile)
		} else {
			storage = session.NewMemoryStorage()
			log.Println("sessions: in-memory")
		}
	}

	var auth session.Authenticator = session.NewRemoteAuthenticator(client)
	if cfg.DevAccounts != "" {
		local, err := session.ParseDevAccounts(cfg.DevAccounts)
		if err != nil {
			log.Fatalf("DEV_ACCOUNTS: %v", err)
		}
		auth = local
		log.Println("auth: local dev accounts")
	}

	svc := service.New(client, audit, summaries, service.Options{
		SummaryTTL:    cfg.SummaryTTL(),
		WorkspaceIdle: cfg.WorkspaceIdle(),
	})
	sessions := httpapi.NewSessions(storage, auth, session.NewTokens(cfg.AuthSecret, cfg.TokenTTL()))
	api := httpapi.New(svc, sessions, cfg.AllowedOrigin, cfg.PrometheusEnabled)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go svc.RunJanitor(janitorCtx, time.Minute)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.APITimeout() + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Kasiran admin listening on %s (upstream %s)", cfg.Address(), cfg.APIBaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stopJanitor()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.APIBaseURL == "" {
		return fmt.Errorf("KASIRAN_API_URL must be set")
	}
	parsed, err := url.Parse(cfg.APIBaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("KASIRAN_API_URL must be an absolute http(s) URL")
	}
	return nil
}
