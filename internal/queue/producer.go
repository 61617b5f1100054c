package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"pehlione.com/settlement/internal/modules/payments"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes to one topic. Messages are keyed so that everything about one
// payment lands on one partition.
type Producer struct {
	w messageWriter
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (p *Producer) Close() error { return p.w.Close() }

// Publish implements payments.EventPublisher.
func (p *Producer) Publish(ctx context.Context, ev payments.SettlementEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.PaymentID),
		Value: b,
		Time:  ev.OccurredAt,
	})
}

// PublishNotification enqueues a notification; deliveries is the number of
// earlier attempts (0 for a first delivery).
func (p *Producer) PublishNotification(ctx context.Context, n payments.Notification, deliveries int) error {
	m, err := encodeNotification(n, deliveries)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, m)
}
