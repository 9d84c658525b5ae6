package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName          = "TokenLedger"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultAccessTokenTTL   = 15 * time.Minute
	defaultDebitRatePerMin  = 600
	defaultPaymentsTopic    = "payments.confirmed"
	defaultConsumerGroup    = "tokenledger"
	idemTTLSecondsEnvVar    = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar        = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar   = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar  = "SHUTDOWN_TIMEOUT"
	accessTTLSecondsEnvVar  = "ACCESS_TOKEN_TTL_SECONDS"
	accessTTLDurationEnvVar = "ACCESS_TOKEN_TTL"

	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName  string
	AppEnv   string
	Port     string
	LogLevel string

	LedgerBackend string
	DatabaseURL   string
	RedisURL      string
	NatsURL       string
	RabbitMQURL   string

	KafkaBrokers       []string
	KafkaPaymentsTopic string
	KafkaBalanceTopic  string
	KafkaConsumerGroup string

	// Notifiers lists the balance-change sinks: log, redis, nats, rabbitmq, kafka.
	Notifiers []string

	JWTSecret      string
	AccessTokenTTL time.Duration
	ServiceKeyHash string

	ShutdownPeriod          time.Duration
	IdempotencyTTL          time.Duration
	DebitRateLimitPerMinute int
}

// Load reads configuration values from the environment (and an optional .env
// file) and populates a Config instance.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:            getEnv("APP_NAME", defaultAppName),
		AppEnv:             getEnv("APP_ENV", defaultAppEnv),
		Port:               getEnv("PORT", defaultPort),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		NatsURL:            os.Getenv("NATS_URL"),
		RabbitMQURL:        os.Getenv("RABBITMQ_URL"),
		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaPaymentsTopic: getEnv("KAFKA_PAYMENTS_TOPIC", defaultPaymentsTopic),
		KafkaBalanceTopic:  getEnv("KAFKA_BALANCE_TOPIC", "tokenledger.balance"),
		KafkaConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", defaultConsumerGroup),
		Notifiers:          splitList(strings.ToLower(getEnv("NOTIFIERS", "log"))),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		ServiceKeyHash:     os.Getenv("SERVICE_KEY_HASH"),
		ShutdownPeriod:     defaultShutdownDelay,
		IdempotencyTTL:     defaultIdempotencyTTL,
		AccessTokenTTL:     defaultAccessTokenTTL,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.AccessTokenTTL, err = durationEnv(accessTTLSecondsEnvVar, accessTTLDurationEnvVar, defaultAccessTokenTTL); err != nil {
		return Config{}, err
	}

	cfg.DebitRateLimitPerMinute = defaultDebitRatePerMin
	if v := os.Getenv("DEBIT_RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DEBIT_RATE_LIMIT_PER_MINUTE: %w", err)
		}
		cfg.DebitRateLimitPerMinute = n
	}

	cfg.LedgerBackend = strings.ToLower(os.Getenv("LEDGER_BACKEND"))
	if cfg.LedgerBackend == "" {
		cfg.LedgerBackend = BackendMemory
		if cfg.DatabaseURL != "" {
			cfg.LedgerBackend = BackendPostgres
		}
	}
	switch cfg.LedgerBackend {
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set for LEDGER_BACKEND=postgres")
		}
	case BackendMemory:
	default:
		return Config{}, fmt.Errorf("unknown LEDGER_BACKEND %q", cfg.LedgerBackend)
	}

	if !cfg.IsDev() {
		if cfg.LedgerBackend != BackendPostgres {
			return Config{}, fmt.Errorf("LEDGER_BACKEND=memory is only allowed in development")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
		if cfg.JWTSecret == "" {
			return Config{}, fmt.Errorf("JWT_SECRET must be set")
		}
		if cfg.ServiceKeyHash == "" {
			return Config{}, fmt.Errorf("SERVICE_KEY_HASH must be set")
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the app runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// NotifierEnabled reports whether name appears in NOTIFIERS.
func (c Config) NotifierEnabled(name string) bool {
	for _, n := range c.Notifiers {
		if n == name {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
