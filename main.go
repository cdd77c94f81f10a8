package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"board-sync/api"
	"board-sync/board"
	"board-sync/config"
	"board-sync/domain"
	"board-sync/feed"
	"board-sync/notify"
	"board-sync/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	store, err := storage.New(cfg.StorageConnectionString, cfg.Tables, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	rc := redis.NewClient(cfg.RedisOptions())
	defer rc.Close()

	changes := feed.NewRedisFeed(rc, logger)
	writer := board.NewMovementWriter(feed.NewPublishingLog(store, rc, logger))
	registry := board.NewRegistry(store, store, writer, logger)

	// Boards loaded here follow moves made by other instances.
	followers := feed.NewMultiplexer(changes, feed.SinkFunc(func(_ context.Context, d feed.Delivery) {
		registry.Observe(d.Record)
	}), logger)
	registry.OnLoad(func(ctx context.Context, ws domain.Workspace) {
		if err := followers.Sync(ctx, registry.Memberships()); err != nil {
			logger.WithError(err).WithField("workspace", ws.ID).Warn("board will not follow remote moves")
		}
	})

	directory := storage.NewCache(store, rc, cfg.CacheTTL)
	dedupe := notify.NewRedisDeduper(rc, cfg.DedupeTTL)
	sessions := api.NewSessions(func() *notify.Service {
		return notify.NewService(changes, directory, directory, dedupe, notify.ServiceConfig{
			Toasts:          notify.ToastConfig{BaseTTL: cfg.ToastTTL, Stagger: cfg.ToastStagger},
			HistoryCapacity: cfg.HistoryCapacity,
		}, logger)
	}, logger)

	auth, err := newAuth(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	if cfg.Debug {
		pprof.Register(e)
	}
	api.Register(e, api.Deps{
		Boards:    registry,
		Members:   directory,
		Movements: store,
		Sessions:  sessions,
		Auth:      auth,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// memberships are cached for CacheTTL
		ticker := time.NewTicker(cfg.CacheTTL)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sessions.ResyncAll(ctx)
			}
		}
	}()
	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server stopped")
		}
	}()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	sessions.Close()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	_ = followers.Close()
	registry.Close()
}

func newAuth(cfg config.Config) (*api.Auth, error) {
	if cfg.AuthTestMode {
		secret := os.Getenv("TEST_JWT_SECRET")
		if secret == "" {
			return nil, errors.New("TEST_JWT_SECRET is required in test mode")
		}
		return api.NewTestAuth([]byte(secret)), nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.AuthDomain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, cfg.AuthAudience, "https://"+cfg.AuthDomain+"/"), nil
}
