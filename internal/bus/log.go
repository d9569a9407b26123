package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// LogBus is the durable, at-least-once backend, backed by Cloud Pub/Sub
// standing in for a partitioned log: topics take the place of partitioned
// logs, ordering keys take the place of partition keys, and subscriptions
// take the place of consumer groups.
type LogBus struct {
	client         *pubsub.Client
	topic          *pubsub.Topic
	subscriptionID string
	produceTimeout time.Duration
	perMsgTimeout  time.Duration

	cancelConsume context.CancelFunc
	stopped       chan struct{}
}

// NewLogBus opens a Pub/Sub client and topic handle. subscriptionID names the
// consumer group Consume will join; perMsgTimeout bounds how long a single
// handler invocation may run before its context is cancelled.
func NewLogBus(ctx context.Context, projectID, topicID, subscriptionID string, perMsgTimeout time.Duration) (*LogBus, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("bus.NewLogBus: %w", err)
	}
	topic := client.Topic(topicID)
	topic.EnableMessageOrdering = true

	if perMsgTimeout <= 0 {
		perMsgTimeout = 30 * time.Second
	}
	return &LogBus{
		client:         client,
		topic:          topic,
		subscriptionID: subscriptionID,
		produceTimeout: DefaultProduceTimeout,
		perMsgTimeout:  perMsgTimeout,
		stopped:        make(chan struct{}),
	}, nil
}

// Produce publishes msg synchronously, blocking up to produceTimeout for the
// publish to be acknowledged by the broker. msg.Key, if set, becomes the
// ordering key, so messages sharing a key are delivered in order.
func (b *LogBus) Produce(ctx context.Context, msg Message) error {
	pctx, cancel := context.WithTimeout(ctx, b.produceTimeout)
	defer cancel()

	result := b.topic.Publish(pctx, &pubsub.Message{
		Data:        msg.Payload,
		Attributes:  msg.Attributes,
		OrderingKey: msg.Key,
	})
	if _, err := result.Get(pctx); err != nil {
		return fmt.Errorf("bus.LogBus.Produce: %w", err)
	}
	return nil
}

// Consume joins the configured subscription (consumer group) and dispatches
// messages to handler with bounded per-message timeout. Offsets are
// committed automatically via Ack/Nack. Runs until Stop is called or ctx ends.
func (b *LogBus) Consume(ctx context.Context, handler Handler) error {
	cctx, cancel := context.WithCancel(ctx)
	b.cancelConsume = cancel
	sub := b.client.Subscription(b.subscriptionID)

	go func() {
		defer close(b.stopped)
		err := sub.Receive(cctx, func(msgCtx context.Context, m *pubsub.Message) {
			b.handleOne(msgCtx, handler, m)
		})
		if err != nil && cctx.Err() == nil {
			slog.Error("bus.LogBus: Receive stopped unexpectedly", "error", err)
		}
	}()
	return nil
}

func (b *LogBus) handleOne(ctx context.Context, handler Handler, m *pubsub.Message) {
	hctx, cancel := context.WithTimeout(ctx, b.perMsgTimeout)
	defer cancel()

	msg := Message{ID: m.ID, Payload: m.Data, Key: m.OrderingKey, Attributes: m.Attributes}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus.LogBus: handler panic, message nacked for redelivery",
				"message_id", msg.ID, "panic", r)
			m.Nack()
		}
	}()

	if err := handler(hctx, msg); err != nil {
		slog.Error("bus.LogBus: handler error, message nacked for redelivery",
			"message_id", msg.ID, "error", err)
		m.Nack()
		return
	}
	m.Ack()
}

// Stop cancels consumption and waits for the in-flight Receive loop to
// return, within ctx's deadline, then closes the underlying Pub/Sub client.
func (b *LogBus) Stop(ctx context.Context) error {
	if b.cancelConsume != nil {
		b.cancelConsume()
	}
	select {
	case <-b.stopped:
	case <-ctx.Done():
		return fmt.Errorf("bus.LogBus.Stop: %w", ctx.Err())
	}
	b.topic.Stop()
	return b.client.Close()
}
