package queue

import (
	"context"
	"time"
)

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Delivery is one received message awaiting Delete or Release. Receipt is
// the driver-specific handle (SQS receipt handle, Postgres row id).
type Delivery struct {
	Receipt      string
	Body         string
	ReceiveCount int
}

// Source receives messages for the worker. Receive long-polls up to wait;
// Delete acknowledges a finished delivery; Release makes the delivery
// visible again after delay for a retry.
type Source interface {
	Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error)
	Delete(ctx context.Context, d Delivery) error
	Release(ctx context.Context, d Delivery, delay time.Duration) error
}
