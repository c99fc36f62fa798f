// Package consumer keeps buyer order histories in step with the order event
// stream. It repairs links the checkout could not write synchronously.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fjod/farm-checkout/internal/orders/repository"
	"github.com/segmentio/kafka-go"
)

const DefaultGroupID = "checkout-buyer-history"

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderLinker must be idempotent; the same event can arrive more than once.
type OrderLinker interface {
	AppendOrderID(ctx context.Context, buyerID, orderID string) error
}

type orderPlacedEvent struct {
	OrderID string `json:"order_id"`
	BuyerID string `json:"buyer_id"`
}

type OrderHistoryConsumer struct {
	reader     MessageReader
	linker     OrderLinker
	log        *slog.Logger
	retryDelay time.Duration
	maxDelay   time.Duration
}

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6,
	})
}

func NewOrderHistoryConsumer(reader MessageReader, linker OrderLinker, log *slog.Logger) *OrderHistoryConsumer {
	return &OrderHistoryConsumer{
		reader:     reader,
		linker:     linker,
		log:        log,
		retryDelay: 200 * time.Millisecond,
		maxDelay:   10 * time.Second,
	}
}

func (c *OrderHistoryConsumer) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := c.processMessage(ctx); err != nil && ctx.Err() == nil {
			c.log.ErrorContext(ctx, "order event consumer error", slog.Any("error", err))
			select {
			case <-ctx.Done():
			case <-time.After(c.retryDelay):
			}
		}
	}
}

func (c *OrderHistoryConsumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Warn("failed to close kafka reader", slog.Any("error", err))
	}
}

// processMessage handles one message. The offset is committed only after the
// link is stored; a failing link is retried in place so later events for the
// partition wait behind it.
func (c *OrderHistoryConsumer) processMessage(ctx context.Context) error {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}

	if event, ok := c.decode(ctx, msg); ok {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = c.retryDelay
		b.MaxInterval = c.maxDelay
		b.MaxElapsedTime = 0

		err := backoff.RetryNotify(func() error {
			return c.linker.AppendOrderID(ctx, event.BuyerID, event.OrderID)
		}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
			c.log.WarnContext(ctx, "order history link failed, retrying",
				slog.String("buyer_id", event.BuyerID),
				slog.String("order_id", event.OrderID),
				slog.Duration("wait", wait),
				slog.Any("error", err))
		})
		if err != nil {
			return err
		}
		c.log.DebugContext(ctx, "order linked to buyer history",
			slog.String("buyer_id", event.BuyerID),
			slog.String("order_id", event.OrderID))
	}

	return c.reader.CommitMessages(ctx, msg)
}

// decode reports false for messages this consumer skips: other event types
// and payloads it cannot use.
func (c *OrderHistoryConsumer) decode(ctx context.Context, msg kafka.Message) (orderPlacedEvent, bool) {
	if eventType(msg) != repository.EventOrderPlaced {
		return orderPlacedEvent{}, false
	}
	var event orderPlacedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil || event.OrderID == "" || event.BuyerID == "" {
		c.log.WarnContext(ctx, "skipping malformed order event",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.String("key", string(msg.Key)))
		return orderPlacedEvent{}, false
	}
	return event, true
}

func eventType(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
