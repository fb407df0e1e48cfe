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
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/api"
	"prism-board/domain"
	"prism-board/github"
	"prism-board/notify"
	"prism-board/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.StandardLogger()
	logCloser := setupLogging(logger, cfg)
	defer logCloser.Close()

	tp := setupTracing(logger, cfg.traceSampleRatio)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("tracing.shutdown_failed")
		}
	}()

	ghCfg := cfg.github
	ghCfg.TracerProvider = tp
	gh, err := github.New(ghCfg)
	if err != nil {
		log.Fatalf("github: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rc *redis.Client
	if cfg.redisConn != "" {
		rc = redis.NewClient(parseRedisOptions(cfg.redisConn))
		defer rc.Close()
	}

	fanout, err := buildNotifiers(cfg, gh, rc, logger)
	if err != nil {
		log.Fatalf("notify: %v", err)
	}
	broker := api.NewBroker()
	if rc != nil && cfg.updatesChannel != "" {
		// every instance relays the shared channel so streams see all writers
		go notify.Subscribe(ctx, rc, cfg.updatesChannel, logger, func(n domain.ChangeNotice) {
			_ = broker.Notify(ctx, n)
		})
	} else {
		fanout.Add("stream", broker)
	}
	opts := storage.Options{
		Root:           cfg.root,
		TxTimeout:      cfg.txTimeout,
		NotifyTimeout:  cfg.notifyTimeout,
		Logger:         logger,
		TracerProvider: tp,
	}
	if fanout.Len() > 0 {
		opts.Notifier = fanout
	}
	store := storage.New(gh, opts)
	defer store.Close()

	var boards api.Boards = store
	var idem api.Idempotency
	if rc != nil {
		boards = storage.NewCache(store, rc, cfg.cacheTTL)
		idem = api.NewRedisIdempotency(rc, cfg.idempotencyTTL)
	}

	auth, err := buildAuth(cfg.auth, logger)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Server.RegisterOnShutdown(broker.Close)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, api.HeaderIdempotencyKey},
	}))
	e.Use(api.GzipRequestMiddleware(api.MaxBodySize))
	api.Register(e, boards, auth, idem, logger)
	api.RegisterStream(e, broker, auth, cfg.streamHeartbeat)

	go func() {
		logger.WithFields(log.Fields{
			"addr":   cfg.listenAddr,
			"repo":   cfg.github.Owner + "/" + cfg.github.Repo,
			"branch": gh.Branch(),
			"cache":  rc != nil,
			"notify": fanout.Len(),
		}).Info("server.start")
		if err := e.Start(cfg.listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server.failed")
			stop()
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server.shutdown_failed")
	}
}

func buildNotifiers(cfg config, gh *github.Client, rc *redis.Client, logger *log.Logger) (*notify.Fanout, error) {
	fanout := notify.NewFanout(logger)
	if cfg.dispatchEventType != "" {
		fanout.Add("dispatch", notify.NewDispatch(gh, cfg.dispatchEventType))
	}
	if rc != nil && cfg.updatesChannel != "" {
		fanout.Add("redis", notify.NewRedis(rc, cfg.updatesChannel))
	}
	if cfg.storageConn == "" {
		return fanout, nil
	}
	if cfg.changesQueue != "" {
		q, err := notify.NewQueueFromConnectionString(cfg.storageConn, cfg.changesQueue)
		if err != nil {
			return nil, fmt.Errorf("queue %s: %w", cfg.changesQueue, err)
		}
		fanout.Add("queue", q)
	}
	if cfg.boardsTable != "" {
		p, err := notify.NewProjectionFromConnectionString(cfg.storageConn, cfg.boardsTable)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", cfg.boardsTable, err)
		}
		fanout.Add("projection", p)
	}
	return fanout, nil
}

func buildAuth(s authSettings, logger *log.Logger) (*api.Auth, error) {
	if s.sharedSecret != "" {
		return api.NewAuth(api.AuthConfig{SharedSecret: []byte(s.sharedSecret)})
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", s.domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.WithError(err).Warn("jwks.refresh_failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(api.AuthConfig{
		JWKS:        jwks,
		Audience:    s.audience,
		Issuer:      "https://" + s.domain + "/",
		KeyCacheTTL: s.keyCacheTTL,
	})
}
