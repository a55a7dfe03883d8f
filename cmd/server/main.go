package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"thesis_messaging/internal/config"
	"thesis_messaging/internal/handler"
	"thesis_messaging/internal/ingest"
	"thesis_messaging/internal/realtime"
	"thesis_messaging/internal/repository"
	"thesis_messaging/internal/service"
	"thesis_messaging/pkg/logger"

	"github.com/gocql/gocql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger := logger.New(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Подключение к Redis (необязательно в режиме memory)
	rdb := connectRedis(ctx, cfg, appLogger)
	if rdb != nil {
		defer rdb.Close()
	}

	repos, cleanup := buildRepositories(ctx, cfg, rdb, appLogger)
	defer cleanup()

	// Реестр соединений и рассылка событий
	registry := realtime.NewRegistry()
	var broadcaster realtime.Broadcaster = realtime.NewLocalBroadcaster(registry)
	if rdb != nil {
		relay := realtime.NewRedisBroadcaster(registry, rdb, cfg.Redis.EventsChannel, appLogger)
		broadcaster = relay
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appLogger.Error("Cross-node relay stopped", "error", err)
			}
		}()
		appLogger.Info("Cross-node fan-out enabled", "channel", cfg.Redis.EventsChannel, "node_id", relay.NodeID())
	}

	// Инициализация сервисов
	services := service.NewServices(repos, broadcaster, cfg, appLogger)

	// Уведомления из Kafka
	if len(cfg.Kafka.Brokers) > 0 {
		consumer, err := ingest.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, nil, ingest.NewNotificationHandler(services.Notification, appLogger))
		if err != nil {
			appLogger.Fatal("Failed to create Kafka consumer", "error", err)
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx, []string{cfg.Kafka.NotificationsTopic}); err != nil && !errors.Is(err, context.Canceled) {
				appLogger.Error("Kafka consumer stopped", "error", err)
			}
		}()
		appLogger.Info("Kafka notification ingest started", "topic", cfg.Kafka.NotificationsTopic)
	}

	// Инициализация handlers и роутера
	handlers := handler.NewHandlers(services, registry, cfg, appLogger)
	router := handler.NewRouter(handlers, services, cfg, appLogger)

	// Запуск HTTP сервера
	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout не задаем: он обрывал бы долгоживущие websocket соединения
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		appLogger.Info("Starting server", "addr", srv.Addr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server exited")
}

func connectRedis(ctx context.Context, cfg *config.Config, appLogger logger.Logger) *redis.Client {
	if cfg.Redis.Addr == "" {
		appLogger.Warn("Redis address empty, running single node")
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Проверка подключения к Redis
	if err := rdb.Ping(ctx).Err(); err != nil {
		if cfg.StoreDriver == config.StoreDriverMemory {
			appLogger.Warn("Redis unavailable, running single node", "error", err)
			_ = rdb.Close()
			return nil
		}
		appLogger.Fatal("Failed to connect to Redis", "error", err)
	}
	appLogger.Info("Redis connection established")
	return rdb
}

func buildRepositories(ctx context.Context, cfg *config.Config, rdb *redis.Client, appLogger logger.Logger) (*repository.Repositories, func()) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		users := repository.NewMemoryUserRepository()
		if cfg.Messaging.MemoryUsersFile != "" {
			loaded, err := repository.LoadMemoryUsers(cfg.Messaging.MemoryUsersFile)
			if err != nil {
				appLogger.Fatal("Failed to load users", "error", err)
			}
			users = loaded
		}
		repos := repository.NewMemoryRepositories(users)
		if rdb != nil {
			repos.RateLimit = repository.NewRateLimitRepository(rdb, appLogger)
		}
		appLogger.Warn("Using in-memory store, data is lost on restart")
		return repos, func() {}
	}

	// Подключение к PostgreSQL
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		appLogger.Fatal("Invalid database DSN", "error", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	poolCfg.MaxConnIdleTime = cfg.Database.MaxIdleTime
	poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime

	dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", "error", err)
	}

	// Проверка подключения к БД
	if err := dbPool.Ping(ctx); err != nil {
		appLogger.Fatal("Failed to ping database", "error", err)
	}
	if err := repository.EnsureSchema(ctx, dbPool); err != nil {
		appLogger.Fatal("Failed to apply schema", "error", err)
	}
	appLogger.Info("Database connection established")

	repos := repository.NewRepositories(dbPool, rdb, appLogger)
	cleanup := dbPool.Close

	if cfg.StoreDriver == config.StoreDriverScylla {
		session, err := repository.NewScyllaSession(ctx, repository.ScyllaOptions{
			Hosts:             cfg.Scylla.Hosts,
			Keyspace:          cfg.Scylla.Keyspace,
			Username:          cfg.Scylla.Username,
			Password:          cfg.Scylla.Password,
			Timeout:           cfg.Scylla.Timeout,
			ReplicationFactor: cfg.Scylla.ReplicationFactor,
			Consistency:       gocql.Quorum,
		}, appLogger)
		if err != nil {
			appLogger.Fatal("Failed to connect to Scylla", "error", err)
		}
		repos.Conversations = repository.NewScyllaConversationStore(session, appLogger)
		appLogger.Info("Scylla conversation store enabled", "keyspace", cfg.Scylla.Keyspace)
		cleanup = func() {
			session.Close()
			dbPool.Close()
		}
	}

	return repos, cleanup
}

