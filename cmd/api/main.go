package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/agentsaas/tokenledger/internal/config"
	"github.com/agentsaas/tokenledger/internal/infra"
	"github.com/agentsaas/tokenledger/internal/ledger"
	"github.com/agentsaas/tokenledger/internal/logging"
	"github.com/agentsaas/tokenledger/internal/notification"
	"github.com/agentsaas/tokenledger/internal/purchase"
	"github.com/agentsaas/tokenledger/internal/routes"
	"github.com/agentsaas/tokenledger/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.AppName, cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("exit", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		db  *pgxpool.Pool
		led ledger.Ledger
	)
	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		db = pool
		led = ledger.NewPostgresLedger(pool)
	default:
		logger.Warn("using in-memory ledger; balances are lost on restart")
		led = ledger.NewInMemory()
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		cache = client
	}

	notifier, closers, err := buildNotifiers(cfg, cache, logger)
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("close notifier", "error", err)
			}
		}
	}()
	if err != nil {
		return err
	}

	srv, err := server.New(routes.Deps{
		Cfg:       cfg,
		DB:        db,
		Cache:     cache,
		Logger:    logger,
		Ledger:    led,
		Notifier:  notifier,
		AccessLog: cfg.IsDev(),
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.Address(), "ledger", cfg.LedgerBackend)
		return srv.Start(gctx, cfg.ShutdownPeriod)
	})

	if len(cfg.KafkaBrokers) > 0 {
		reader := purchase.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaPaymentsTopic, cfg.KafkaConsumerGroup)
		consumer := purchase.NewConsumer(reader, purchase.NewService(led, notifier, logger), logger)
		g.Go(func() error {
			defer consumer.Close() // nolint:errcheck
			logger.Info("payment consumer started", "topic", cfg.KafkaPaymentsTopic, "group", cfg.KafkaConsumerGroup)
			return consumer.Run(gctx)
		})
	}

	return g.Wait()
}

// buildNotifiers fans balance changes out to every sink named in NOTIFIERS.
// The returned closers must be closed even when an error is returned.
func buildNotifiers(cfg config.Config, cache *redis.Client, logger *slog.Logger) (notification.Notifier, []io.Closer, error) {
	var (
		sinks   notification.Multi
		closers []io.Closer
	)

	if cfg.NotifierEnabled("log") {
		sinks = append(sinks, notification.NewLoggerNotifier(logger))
	}
	if cfg.NotifierEnabled("redis") {
		if cache == nil {
			return nil, closers, fmt.Errorf("redis notifier requires REDIS_URL")
		}
		sinks = append(sinks, notification.NewRedisNotifier(cache, notification.DefaultRedisChannel))
	}
	if cfg.NotifierEnabled("nats") {
		nc, err := infra.NewNatsConn(cfg.NatsURL, cfg.AppName)
		if err != nil {
			return nil, closers, fmt.Errorf("connect nats: %w", err)
		}
		closers = append(closers, closerFunc(func() error { return nc.Drain() }))
		sinks = append(sinks, notification.NewNatsNotifier(nc, notification.DefaultNatsSubject))
	}
	if cfg.NotifierEnabled("rabbitmq") {
		rmq, err := infra.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return nil, closers, fmt.Errorf("connect rabbitmq: %w", err)
		}
		closers = append(closers, rmq)
		n, err := notification.NewRabbitNotifier(rmq.Channel, notification.DefaultRabbitQueue)
		if err != nil {
			return nil, closers, fmt.Errorf("declare rabbitmq queue: %w", err)
		}
		sinks = append(sinks, n)
	}
	if cfg.NotifierEnabled("kafka") {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, closers, fmt.Errorf("kafka notifier requires KAFKA_BROKERS")
		}
		n := notification.NewKafkaNotifier(notification.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaBalanceTopic))
		closers = append(closers, n)
		sinks = append(sinks, n)
	}

	logger.Info("balance notifiers configured", "notifiers", cfg.Notifiers)
	return sinks, closers, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
