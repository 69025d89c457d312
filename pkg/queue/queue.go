// Package queue defines the at-least-once message queue driving the
// thumbnail pipeline.
//
// Delivery semantics:
//   - A received message becomes invisible for the visibility timeout; if it
//     is not acknowledged before then it is delivered again.
//   - Send may delay the first delivery; retries use this to implement backoff.
//   - Dead letters go to a separate queue for operator inspection and are
//     never redelivered to workers.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrReceiptExpired is returned by Ack when the message already became
// visible again (and may have been handed to another consumer).
var ErrReceiptExpired = errors.New("queue: receipt expired")

// Message is one delivery.
type Message struct {
	ID   string
	Body []byte

	// Receipt acknowledges this particular delivery.
	Receipt string

	// Deliveries counts how many times the message was received, this
	// delivery included.
	Deliveries int

	EnqueuedAt time.Time
}

// Queue is the message queue contract.
type Queue interface {
	// Send enqueues body, visible after delay.
	Send(ctx context.Context, body []byte, delay time.Duration) (string, error)

	// Receive returns up to max visible messages and hides them for visibility.
	Receive(ctx context.Context, max int, visibility time.Duration) ([]Message, error)

	// Ack removes a received message.
	Ack(ctx context.Context, receipt string) error

	// SendDeadLetter stores body in the dead-letter queue.
	SendDeadLetter(ctx context.Context, body []byte) error

	// ReceiveDeadLetters lists up to max dead letters without removing them.
	ReceiveDeadLetters(ctx context.Context, max int) ([]Message, error)
}
