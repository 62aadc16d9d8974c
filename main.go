package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"kanban-api/api"
	"kanban-api/board"
	"kanban-api/notify"
	"kanban-api/storage"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rc := redis.NewClient(redisOptions(cfg.RedisConnStr))
	defer rc.Close()

	store, err := storage.New(cfg.StorageConnStr, cfg.Tables, storage.NewRedisSequence(rc, ""))
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	gateway := storage.NewCache(store, rc, cfg.CacheTTL)

	hub := api.NewAlertHub()
	pub := notify.NewPublisher(rc, cfg.UpdateChannel)
	opts := board.Options{
		CallTimeout: cfg.CallTimeout,
		Logger:      logger,
		Alerter:     hub,
		Publisher:   pub,
	}
	if cfg.RepairQueue != "" {
		repair, err := storage.NewRepairQueue(cfg.StorageConnStr, cfg.RepairQueue)
		if err != nil {
			log.Fatalf("repair queue: %v", err)
		}
		opts.Repair = repair
	}
	registry := board.NewRegistry(gateway, opts)
	go pub.Subscribe(ctx, logger, registry.HandleChange)
	go registry.RunEviction(ctx, time.Minute, cfg.BoardIdleTTL)

	auth, err := newAuth(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept,
			echo.HeaderAuthorization, echo.HeaderContentEncoding, "Idempotency-Key",
		},
	}))
	api.Register(e, api.Deps{
		Boards:    registry,
		Directory: gateway,
		Auth:      auth,
		Deduper:   api.NewRedisDeduper(rc, cfg.DeduperTTL),
		Alerts:    hub,
		Logger:    logger,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.CallTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("shutdown")
		}
	}()

	logger.WithField("addr", cfg.ListenAddr).Info("kanban api starting")
	if err := e.Start(cfg.ListenAddr); err != nil && ctx.Err() == nil {
		e.Logger.Fatal(err)
	}
}

func newAuth(cfg config) (*api.Auth, error) {
	if cfg.localAuth() {
		return api.NewAuth(nil, "", "")
	}
	if cfg.AuthAudience == "" || cfg.AuthDomain == "" {
		return nil, fmt.Errorf("missing Auth0 config")
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.AuthDomain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, cfg.AuthAudience, "https://"+cfg.AuthDomain+"/")
}
