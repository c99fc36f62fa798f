package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjod/farm-checkout/internal/orders/repository"
	"github.com/fjod/farm-checkout/pkg/metrics"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic     = "order-events"
	defaultTick      = time.Second
	defaultBatchSize = 100
	defaultTimeout   = 5 * time.Second
)

type EventSource interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*repository.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// OutboxPoller publishes outbox rows to Kafka in id order. Delivery is
// at-least-once: a row is marked processed only after the broker accepted it,
// so consumers must dedupe on the order id and event type.
type OutboxPoller struct {
	source    EventSource
	writer    MessageWriter
	log       *slog.Logger
	metrics   *metrics.OutboxMetrics
	tick      time.Duration
	batchSize int
	timeout   time.Duration
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func NewOutboxPoller(source EventSource, writer MessageWriter, m *metrics.OutboxMetrics, log *slog.Logger) *OutboxPoller {
	return &OutboxPoller{
		source:    source,
		writer:    writer,
		log:       log,
		metrics:   m,
		tick:      defaultTick,
		batchSize: defaultBatchSize,
		timeout:   defaultTimeout,
	}
}

// SetInterval changes the poll period; non-positive values are ignored.
func (p *OutboxPoller) SetInterval(d time.Duration) {
	if d > 0 {
		p.tick = d
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// processUnpublishedEvents returns how many events were published. It stops at
// the first publish failure so events for one order never overtake each other.
func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) int {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	events, err := p.source.GetUnprocessedEvents(fetchCtx, p.batchSize)
	cancel()
	if err != nil {
		p.log.ErrorContext(ctx, "failed to fetch outbox events", slog.Any("error", err))
		return 0
	}

	published := 0
	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.count(event.EventType, "error")
			p.log.ErrorContext(ctx, "failed to publish outbox event",
				slog.Int64("event_id", event.ID),
				slog.String("event_type", event.EventType),
				slog.Any("error", err))
			return published
		}
		p.count(event.EventType, "published")
		published++

		markCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := p.source.MarkEventAsProcessed(markCtx, event.ID)
		cancel()
		if err != nil {
			// republished on the next tick
			p.log.WarnContext(ctx, "failed to mark outbox event as processed",
				slog.Int64("event_id", event.ID), slog.Any("error", err))
		}
	}
	return published
}

func (p *OutboxPoller) publish(ctx context.Context, event *repository.OutboxEvent) error {
	writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	})
}

func (p *OutboxPoller) count(eventType, result string) {
	if p.metrics == nil {
		return
	}
	p.metrics.Events.WithLabelValues(eventType, result).Inc()
}
