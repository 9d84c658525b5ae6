package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/agentsaas/tokenledger/internal/ledger"
)

const (
	defaultProcessTimeout = 10 * time.Second
	defaultMinBackoff     = 200 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
	// defaultMissingAccountAttempts bounds retries for payments that name an
	// account which is not provisioned yet.
	defaultMissingAccountAttempts = 5
)

// Reader is the subset of *kafka.Reader the consumer drives.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaReader builds a consumer-group reader for the payments topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Consumer applies PaymentConfirmed events read from Kafka. An offset is only
// committed once its event is credited, found to be a duplicate, ignored, or
// judged permanently unprocessable.
type Consumer struct {
	reader  Reader
	service *Service
	logger  *slog.Logger

	ProcessTimeout         time.Duration
	MinBackoff             time.Duration
	MaxBackoff             time.Duration
	MissingAccountAttempts int
}

// NewConsumer wires a reader to the purchase service.
func NewConsumer(reader Reader, service *Service, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader:                 reader,
		service:                service,
		logger:                 logger,
		ProcessTimeout:         defaultProcessTimeout,
		MinBackoff:             defaultMinBackoff,
		MaxBackoff:             defaultMaxBackoff,
		MissingAccountAttempts: defaultMissingAccountAttempts,
	}
}

// Run consumes until ctx is canceled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("payment consumer started")
	for {
		if ctx.Err() != nil {
			return nil
		}

		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("fetch payment message failed", slog.Any("error", err))
			if !c.sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		if !c.process(ctx, m) {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("commit payment offset failed", slog.Int64("offset", m.Offset), slog.Any("error", err))
		}
	}
}

// process handles one message until it may be committed. It returns false
// only when ctx was canceled first.
func (c *Consumer) process(ctx context.Context, m kafka.Message) bool {
	log := c.logger.With(slog.Int("partition", m.Partition), slog.Int64("offset", m.Offset))

	var evt PaymentConfirmed
	if err := json.Unmarshal(m.Value, &evt); err != nil {
		log.Error("dropping undecodable payment event", slog.Any("error", err))
		return true
	}
	log = log.With(slog.String("event_id", evt.EventID), slog.String("account_id", evt.AccountID))

	backoff := c.MinBackoff
	for attempt := 1; ; attempt++ {
		processCtx, cancel := context.WithTimeout(ctx, c.ProcessTimeout)
		out, err := c.service.Apply(processCtx, evt)
		cancel()

		switch {
		case err == nil:
			log.Debug("payment event processed", slog.String("status", out.Status))
			return true
		case errors.Is(err, ledger.ErrInvalidArgument):
			log.Error("dropping invalid payment event", slog.Any("error", err))
			return true
		case errors.Is(err, ledger.ErrAccountNotFound) && attempt >= c.MissingAccountAttempts:
			log.Error("dropping payment event for unknown account", slog.Int("attempts", attempt))
			return true
		}

		if ctx.Err() != nil {
			return false
		}
		log.Warn("payment event failed, retrying", slog.Int("attempt", attempt), slog.Duration("backoff", backoff), slog.Any("error", err))
		if !c.sleep(ctx, backoff) {
			return false
		}
		backoff *= 2
		if backoff > c.MaxBackoff {
			backoff = c.MaxBackoff
		}
	}
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
