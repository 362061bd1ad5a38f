// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Her50/yukpomnang-sub000/billing"
	"github.com/Her50/yukpomnang-sub000/cache"
	"github.com/Her50/yukpomnang-sub000/config"
	"github.com/Her50/yukpomnang-sub000/exchange"
	"github.com/Her50/yukpomnang-sub000/intent"
	"github.com/Her50/yukpomnang-sub000/llm"
	"github.com/Her50/yukpomnang-sub000/media"
	"github.com/Her50/yukpomnang-sub000/orchestrator"
	"github.com/Her50/yukpomnang-sub000/schema"
	"github.com/Her50/yukpomnang-sub000/search"
	"github.com/Her50/yukpomnang-sub000/service"
	"github.com/Her50/yukpomnang-sub000/shared/logger"
)

const (
	shutdownTimeout      = 15 * time.Second
	cacheCleanupInterval = 10 * time.Minute
	taskQueueWorkers     = 4
	mongoDatabase        = "yukpo"
)

// Run boots the whole process: configuration, stores, the pipeline and
// the HTTP server, then blocks until SIGINT or SIGTERM.
func Run() error {
	log := logger.New("yukpo-server")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening postgres: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("pinging postgres: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parsing redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("", "", "redis unreachable at startup, degraded mode", map[string]interface{}{"error": err.Error()})
		}
	}

	pool := llm.NewPoolFromEnv(log)
	detector := intent.NewDetector(pool, log)
	validator := schema.NewValidator(log)

	cacheOpts := []cache.Option{
		cache.WithLogger(log),
		cache.WithPrecomputeFunc(func(ctx context.Context, query string) (string, error) {
			prediction := pool.Predict(ctx, query)
			if prediction.Model == llm.FallbackModelName {
				return "", fmt.Errorf("no provider available for precompute")
			}
			return prediction.Content, nil
		}),
	}
	if rdb != nil {
		cacheOpts = append(cacheOpts, cache.WithRedisMirror(rdb))
	}
	smartCache := cache.New(cache.ConfigForEnv(cfg.IsProduction()), cacheOpts...)

	searchCfg, err := config.LoadSearchConfig(os.Getenv("SEARCH_CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("loading search configuration: %w", err)
	}
	engine := search.NewEngine(db, searchCfg, log)

	repo := service.NewRepository(db, log)

	matcherOpts := []exchange.MatcherOption{
		exchange.WithThreshold(cfg.ExchangeMatchThreshold),
		exchange.WithMatcherLogger(log),
	}
	if rdb != nil {
		matcherOpts = append(matcherOpts, exchange.WithRedis(rdb))
	}
	matcher := exchange.NewMatcher(db, matcherOpts...)

	routerOpts := []orchestrator.RouterOption{orchestrator.WithBusinessLogger(log)}
	if cfg.MediaBucket != "" {
		storage, err := media.NewStorage(ctx, cfg.MediaBucket, os.Getenv("AWS_REGION"),
			os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"),
			media.WithLogger(log))
		if err != nil {
			return fmt.Errorf("initializing media storage: %w", err)
		}
		routerOpts = append(routerOpts, orchestrator.WithUploadStore(storage))
	}
	router := orchestrator.NewBusinessRouter(repo, engine, matcher, routerOpts...)

	tasks := orchestrator.NewTaskQueue(taskQueueWorkers, log)
	defer tasks.Close()

	orchOpts := []orchestrator.Option{
		orchestrator.WithRouter(router),
		orchestrator.WithTaskQueue(tasks),
		orchestrator.WithLogger(log),
	}
	if cfg.MongoURL != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURL))
		if err != nil {
			return fmt.Errorf("connecting to mongo: %w", err)
		}
		defer func() {
			discCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(discCtx)
		}()
		orchOpts = append(orchOpts, orchestrator.WithRecorder(orchestrator.NewInteractionStore(client, mongoDatabase)))
	}
	orch := orchestrator.New(pool, smartCache, detector, validator, orchOpts...)

	billingMw := billing.NewMiddleware(db, []byte(cfg.JWTSecret), log)
	limiter := NewRateLimiter(rdb, cfg.RateLimitPerMinute, log)

	srv := New(
		WithProcessor(orch),
		WithSearcher(engine),
		WithServiceStore(repo),
		WithValidator(validator),
		WithBilling(billingMw),
		WithRateLimiter(limiter),
		WithJWTSecret([]byte(cfg.JWTSecret)),
		WithServerLogger(log),
		WithDiagnostics(smartCache.Stats, pool.Metrics().Snapshot),
	)

	go cleanupLoop(ctx, smartCache, log)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("", "", "http server listening", map[string]interface{}{"addr": cfg.HTTPAddr, "env": cfg.Environment})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("", "", "shutdown signal received, draining", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("draining http server: %w", err)
	}
	return nil
}

// cleanupLoop evicts expired cache entries until the process stops.
func cleanupLoop(ctx context.Context, smartCache *cache.SmartCache, log *logger.Logger) {
	ticker := time.NewTicker(cacheCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := smartCache.CleanupExpired(); evicted > 0 {
				log.Debug("", "", "expired cache entries evicted", map[string]interface{}{"count": evicted})
			}
		}
	}
}
