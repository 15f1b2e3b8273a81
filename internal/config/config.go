/**
 * @description
 * This package handles the configuration management for the remittance service.
 * It uses the Viper library to read configuration from environment variables and
 * an optional .env file, applies defaults and coerces out-of-range values.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/transfa/remittance-service/internal/logger"
)

const (
	defaultReceiptMaxBytes     = 5 << 20
	defaultReceiptAllowedTypes = "image/jpeg,image/png,application/pdf"
	defaultRateCachePrefix     = "remittance:rate"
	defaultAuditExchange       = "remittance.audit"
)

// Config holds all the configuration variables for the remittance service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RateCachePrefix      string `mapstructure:"RATE_CACHE_PREFIX"`
	RateCacheTTLSeconds  int    `mapstructure:"RATE_CACHE_TTL_SECONDS"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	AuditExchange        string `mapstructure:"AUDIT_EXCHANGE"`
	JWTSecret            string `mapstructure:"JWT_SECRET"`
	JWTIssuer            string `mapstructure:"JWT_ISSUER"`
	ReceiptDir           string `mapstructure:"RECEIPT_DIR"`
	ReceiptMaxBytes      int64  `mapstructure:"RECEIPT_MAX_BYTES"`
	ReceiptAllowedTypes  string `mapstructure:"RECEIPT_ALLOWED_TYPES"`
	OutboxPollIntervalMS int    `mapstructure:"OUTBOX_POLL_INTERVAL_MS"`
	OutboxBatchSize      int    `mapstructure:"OUTBOX_BATCH_SIZE"`
	LogLevel             string `mapstructure:"LOG_LEVEL"`
	LogFormat            string `mapstructure:"LOG_FORMAT"`
	CORSAllowedOrigins   string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DB_MAX_CONNS", 50)
	viper.SetDefault("DB_MIN_CONNS", 5)
	viper.SetDefault("RATE_CACHE_PREFIX", defaultRateCachePrefix)
	viper.SetDefault("RATE_CACHE_TTL_SECONDS", 60)
	viper.SetDefault("AUDIT_EXCHANGE", defaultAuditExchange)
	viper.SetDefault("RECEIPT_DIR", "./receipts")
	viper.SetDefault("RECEIPT_MAX_BYTES", defaultReceiptMaxBytes)
	viper.SetDefault("RECEIPT_ALLOWED_TYPES", defaultReceiptAllowedTypes)
	viper.SetDefault("OUTBOX_POLL_INTERVAL_MS", 1500)
	viper.SetDefault("OUTBOX_BATCH_SIZE", 50)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("DB_MAX_CONNS")
	_ = viper.BindEnv("DB_MIN_CONNS")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "REMITTANCE_REDIS_URL")
	_ = viper.BindEnv("RATE_CACHE_PREFIX")
	_ = viper.BindEnv("RATE_CACHE_TTL_SECONDS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("AUDIT_EXCHANGE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("RECEIPT_DIR")
	_ = viper.BindEnv("RECEIPT_MAX_BYTES")
	_ = viper.BindEnv("RECEIPT_ALLOWED_TYPES")
	_ = viper.BindEnv("OUTBOX_POLL_INTERVAL_MS")
	_ = viper.BindEnv("OUTBOX_BATCH_SIZE")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("LOG_FORMAT")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

	log := logger.Component("config")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.WithError(err).Warn("failed to read config file; using environment values")
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.JWTSecret = strings.TrimSpace(config.JWTSecret)

	config.RateCachePrefix = strings.TrimSpace(config.RateCachePrefix)
	if config.RateCachePrefix == "" {
		config.RateCachePrefix = defaultRateCachePrefix
	}
	config.AuditExchange = strings.TrimSpace(config.AuditExchange)
	if config.AuditExchange == "" {
		config.AuditExchange = defaultAuditExchange
	}

	if config.RateCacheTTLSeconds <= 0 {
		log.WithField("ttl_seconds", config.RateCacheTTLSeconds).Warn("non-positive rate cache ttl; using 60s")
		config.RateCacheTTLSeconds = 60
	}
	if config.ReceiptMaxBytes <= 0 {
		log.WithField("max_bytes", config.ReceiptMaxBytes).Warn("non-positive receipt size limit; using default")
		config.ReceiptMaxBytes = defaultReceiptMaxBytes
	}
	if strings.TrimSpace(config.ReceiptAllowedTypes) == "" {
		config.ReceiptAllowedTypes = defaultReceiptAllowedTypes
	}
	if config.OutboxPollIntervalMS < 100 {
		config.OutboxPollIntervalMS = 1500
	}
	if config.OutboxBatchSize <= 0 {
		config.OutboxBatchSize = 50
	}
	if config.DBMaxConns <= 0 {
		config.DBMaxConns = 50
	}
	if config.DBMinConns < 0 || config.DBMinConns > config.DBMaxConns {
		log.WithFields(logrus.Fields{"min_conns": config.DBMinConns, "max_conns": config.DBMaxConns}).Warn("db min conns out of range; coercing")
		config.DBMinConns = 0
	}

	return
}

// RateCacheTTL is the lifetime of a cached exchange-rate read.
func (c Config) RateCacheTTL() time.Duration {
	return time.Duration(c.RateCacheTTLSeconds) * time.Second
}

// OutboxPollInterval is the delay between outbox relay passes.
func (c Config) OutboxPollInterval() time.Duration {
	return time.Duration(c.OutboxPollIntervalMS) * time.Millisecond
}

// AllowedReceiptTypes returns the configured receipt MIME types.
func (c Config) AllowedReceiptTypes() []string {
	return splitList(c.ReceiptAllowedTypes)
}

// AllowedOrigins returns the configured CORS origins.
func (c Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
