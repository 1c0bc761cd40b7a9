package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"jewelcraft/config"
	"jewelcraft/internal/api"
	"jewelcraft/internal/auth"
	"jewelcraft/internal/broker"
	"jewelcraft/internal/redisclient"
	"jewelcraft/internal/service"
	"jewelcraft/internal/store"
	"jewelcraft/internal/util"
	"jewelcraft/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// storeEngine is what the server needs from either persistence engine
type storeEngine interface {
	service.ItemRepository
	service.OrderRepository
	service.UserRepository
	worker.OutboxStore
	Ping() error
	Close() error
}

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("starting jewelcraft", cfg.LogFields()...)

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("JWT_SECRET_KEY must be set")
	}

	tp, err := util.InitTracer("jewelcraft", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("failed to initialize tracer", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn("error shutting down tracer", zap.Error(err))
			}
		}()
	}

	db, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer db.Close()

	checks := map[string]api.ReadinessCheck{
		"store": func(context.Context) error { return db.Ping() },
	}

	var redisClient *redisclient.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("redis unavailable, idempotency keys and stats projection disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
			checks["redis"] = redisClient.Ping
			logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
		}
	}

	kafkaEnabled := len(cfg.Kafka.Brokers) > 0

	var (
		idempotency service.IdempotencyStore
		projection  service.StatsProjection
		locker      worker.Locker
	)
	if redisClient != nil {
		idempotency = redisClient
		locker = redisClient
		if kafkaEnabled {
			projection = redisClient
		}
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	inventory := service.NewInventoryService(db, cfg.Business.StoreTimeout)
	orders := service.NewOrderService(db, inventory, idempotency, service.OrderServiceConfig{
		StoreTimeout:   cfg.Business.StoreTimeout,
		IdempotencyTTL: cfg.Business.IdempotencyTTL,
	})
	users := service.NewUserService(db, tokens, cfg.Business.StoreTimeout)
	stats := service.NewStatsService(projection, inventory, orders)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	var workers sync.WaitGroup

	var statsWorker *worker.StatsWorker
	if kafkaEnabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()

		relay := worker.NewOutboxRelay(db, broker.NewEventPublisher(producer), locker, worker.OutboxRelayConfig{
			Interval:  cfg.Business.OutboxPollInterval,
			BatchSize: cfg.Business.OutboxBatchSize,
		})
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := relay.Start(workerCtx); err != nil {
				logger.Error("outbox relay stopped", zap.Error(err))
			}
		}()

		if projection != nil {
			consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
			statsWorker = worker.NewStatsWorker(consumer, stats, cfg.Business.ConsumerRetryDelay)
			workers.Add(1)
			go func() {
				defer workers.Done()
				if err := statsWorker.Start(workerCtx); err != nil {
					logger.Error("stats worker stopped", zap.Error(err))
				}
			}()
		}
	} else {
		logger.Warn("kafka not configured, order events stay in the outbox")
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Inventory: inventory,
		Catalog:   service.NewCatalogService(inventory),
		Orders:    orders,
		Users:     users,
		Stats:     stats,
		Tokens:    tokens,
	}, checks)
	handler.SetupRoutes(router, cfg.Server.AllowedOrigins)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if statsWorker != nil {
		if err := statsWorker.Stop(); err != nil {
			logger.Warn("error stopping stats worker", zap.Error(err))
		}
	}
	workers.Wait()

	logger.Info("server exited")
}

// openStore connects the configured persistence engine
func openStore(cfg *config.Config, logger *zap.Logger) (storeEngine, error) {
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	case "postgres":
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if cfg.Database.MigrationsEnabled {
			if err := db.RunMigrations(); err != nil {
				db.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
			logger.Info("database migrations applied")
		}
		logger.Info("database connected")
		return db, nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Database.Driver)
	}
}
