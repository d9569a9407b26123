// Package bus implements MessageBus: an abstract queue with two concrete
// backends selected by configuration. The channel backend runs an
// in-process worker pool over a bounded queue; the log backend wires
// cloud.google.com/go/pubsub for a durable, at-least-once partitioned
// queue.
package bus

import (
	"context"
	"time"
)

// Message is one unit of work placed on the bus. Payload is the JSON task
// body the pipeline understands; Key, when set, is the log backend's
// partition/ordering key.
type Message struct {
	ID         string
	Payload    []byte
	Key        string
	Attributes map[string]string
}

// Handler processes one Message. A returned error only affects log-backend
// redelivery; the channel backend always acks (at-most-once).
type Handler func(ctx context.Context, msg Message) error

// Bus is the abstract queue contract shared by both backends.
type Bus interface {
	// Produce enqueues msg, blocking up to the backend's configured timeout.
	Produce(ctx context.Context, msg Message) error
	// Consume starts consuming in the background and returns immediately.
	// Call Stop to drain and halt consumption.
	Consume(ctx context.Context, handler Handler) error
	// Stop drains in-flight messages within a bounded grace period.
	Stop(ctx context.Context) error
}

// Mode selects which backend Config wires up.
type Mode string

const (
	ModeChannel Mode = "channel"
	ModeLog     Mode = "log"
)

// DefaultProduceTimeout bounds how long Produce blocks against a full queue
// or a slow broker round-trip.
const DefaultProduceTimeout = 5 * time.Second
