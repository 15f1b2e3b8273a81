/**
 * @description
 * This is the main entry point for the remittance service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * the rate cache, the message broker, receipt storage, the core application service,
 * the outbox relay and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Exchange-rate cache.
 * - github.com/spf13/afero: Receipt storage on the local filesystem.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/transfa/remittance-service/internal/api"
	"github.com/transfa/remittance-service/internal/app"
	"github.com/transfa/remittance-service/internal/config"
	"github.com/transfa/remittance-service/internal/logger"
	"github.com/transfa/remittance-service/internal/storage"
	"github.com/transfa/remittance-service/internal/store"
	"github.com/transfa/remittance-service/pkg/rabbitmq"
)

func main() {
	log := logger.Component("bootstrap")

	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.WithError(err).Fatal("config load failed")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	if cfg.JWTSecret == "" {
		log.WithField("env", "JWT_SECRET").Fatal("jwt secret must be configured")
	}
	log.WithField("port", cfg.ServerPort).Info("starting remittance-service")

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database url parse failed")
	}
	poolConfig.MaxConns = cfg.DBMaxConns
	poolConfig.MinConns = cfg.DBMinConns
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer dbpool.Close()
	log.Info("database connected")

	repository := store.NewPostgresRepository(dbpool, cfg.AuditExchange)

	receipts := storage.NewReceiptStore(afero.NewOsFs(), cfg.ReceiptDir, cfg.ReceiptMaxBytes, cfg.AllowedReceiptTypes())

	remittanceService := app.NewService(repository, receipts)

	if redisClient := connectRedis(cfg.RedisURL, log); redisClient != nil {
		defer redisClient.Close()
		remittanceService.SetRateCache(app.NewRedisRateCache(redisClient, cfg.RateCachePrefix, cfg.RateCacheTTL()))
	}

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()

	// Audit events are committed to the outbox regardless; without a broker they wait there.
	if cfg.RabbitMQURL == "" {
		log.WithField("env", "RABBITMQ_URL").Warn("rabbitmq url missing; outbox relay disabled")
	} else if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
		log.WithError(err).Warn("rabbitmq producer unavailable; outbox relay disabled")
	} else {
		defer producer.Close()
		publisher := rabbitmq.NewBreakerPublisher(producer, rabbitmq.BreakerSettings{Name: "audit-publisher"})
		relay := app.NewOutboxRelay(repository, publisher, cfg.OutboxBatchSize, cfg.OutboxPollInterval())
		go relay.Run(relayCtx)
		log.WithField("exchange", cfg.AuditExchange).Info("outbox relay started")
	}

	handlers := api.NewHandlers(remittanceService, cfg.ReceiptMaxBytes)
	router := api.Routes(handlers, api.AuthConfig{JWTSecret: cfg.JWTSecret, JWTIssuer: cfg.JWTIssuer}, cfg.AllowedOrigins())

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Component("http").WithField("addr", serverAddr).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Component("http").WithError(err).Fatal("server stopped unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Component("http").Info("shutdown started")

	stopRelay()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Component("http").WithError(err).Error("shutdown failed")
	}

	logger.Component("http").Info("shutdown complete")
}

// connectRedis returns nil when the cache is not configured or unreachable;
// exchange-rate reads then go straight to the database.
func connectRedis(redisURL string, log *logrus.Entry) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		log.WithField("env", "REDIS_URL").Warn("redis url missing; rate cache disabled")
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.WithError(err).Warn("redis url parse failed; rate cache disabled")
		return nil
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Warn("redis ping failed; rate cache disabled")
		client.Close()
		return nil
	}
	log.Info("redis connected")
	return client
}
