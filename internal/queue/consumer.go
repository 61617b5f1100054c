package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"pehlione.com/settlement/internal/modules/payments"
)

// Processor settles one notification.
type Processor interface {
	Process(ctx context.Context, n payments.Notification) payments.Result
}

// Republisher puts a notification back on the topic for a later delivery.
type Republisher interface {
	PublishNotification(ctx context.Context, n payments.Notification, deliveries int) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	Workers     int
	MaxAttempts int
	Backoff     time.Duration
}

// Consumer runs Workers group members. Each member owns its partitions and
// handles one message at a time, so offsets are committed in order and only
// after the notification was acknowledged or handed back to the topic.
type Consumer struct {
	cfg       ConsumerConfig
	proc      Processor
	republish Republisher
	newReader func() messageReader
	logger    *slog.Logger
}

func NewConsumer(cfg ConsumerConfig, proc Processor, republish Republisher) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	c := &Consumer{cfg: cfg, proc: proc, republish: republish, logger: slog.Default()}
	c.newReader = func() messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 1e6,
			MaxWait:  500 * time.Millisecond,
		})
	}
	return c
}

func (c *Consumer) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// Run blocks until ctx is cancelled or a worker fails.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Workers; i++ {
		worker := i
		g.Go(func() error { return c.work(ctx, worker) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Consumer) work(ctx context.Context, worker int) error {
	r := c.newReader()
	defer r.Close()

	c.logger.InfoContext(ctx, "notification worker started", "worker", worker, "topic", c.cfg.Topic)
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("worker %d fetch: %w", worker, err)
		}
		if err := c.handle(ctx, m); err != nil {
			return err
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("worker %d commit: %w", worker, err)
		}
	}
}

// handle returns nil when m may be committed.
func (c *Consumer) handle(ctx context.Context, m kafka.Message) error {
	n, err := DecodeNotification(m)
	if err != nil {
		c.logger.ErrorContext(ctx, "dropping undecodable notification",
			"partition", m.Partition, "offset", m.Offset, "err", err)
		return nil
	}

	var res payments.Result
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		res = c.proc.Process(ctx, n)
		if res.Success {
			return nil
		}
		c.logger.WarnContext(ctx, "notification not settled",
			"payment_id", n.PaymentID, "attempt", attempt, "err", res.Error)
		if attempt < c.cfg.MaxAttempts {
			if err := sleep(ctx, c.cfg.Backoff<<(attempt-1)); err != nil {
				return err
			}
		}
	}

	deliveries := deliveryCount(m) + 1
	for attempt := 0; ; attempt++ {
		err := c.republish.PublishNotification(ctx, n, deliveries)
		if err == nil {
			c.logger.InfoContext(ctx, "notification requeued", "payment_id", n.PaymentID, "deliveries", deliveries)
			return nil
		}
		c.logger.ErrorContext(ctx, "notification requeue failed", "payment_id", n.PaymentID, "err", err)
		if err := sleep(ctx, c.cfg.Backoff<<min(attempt, 6)); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
