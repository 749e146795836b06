package queue

import (
	"context"
	"time"
)

// Lease is the broker-granted ownership token over a received message. Every
// settle operation (complete, abandon, dead-letter) requires it.
type Lease struct {
	MessageID string
	Token     string
	// DeliveryCount is the broker-level redelivery counter: 1 on first
	// delivery. It is distinct from JobMessage.Attempt, which only moves on
	// manual resubmission.
	DeliveryCount int
	ExpiresAt     time.Time
}

// DeadLetterEntry describes a parked message for operator inspection.
type DeadLetterEntry struct {
	MessageID     string
	GenerationID  string
	UserID        string
	Reason        string
	Detail        string
	DeliveryCount int
	DeadAt        time.Time
	Body          []byte
}

// Gateway is the send/receive abstraction over the durable message broker.
// Delivery is at-least-once; senders must treat errors as unknown outcome and
// rely on idempotent downstream processing.
type Gateway interface {
	Send(ctx context.Context, msg *JobMessage) error
	// SendBatch splits into transport-sized sub-batches. Partial failure of a
	// sub-batch does not roll back earlier sub-batches.
	SendBatch(ctx context.Context, msgs []*JobMessage) error
	// Schedule enqueues for delivery no earlier than notBefore.
	Schedule(ctx context.Context, msg *JobMessage, notBefore time.Time) error

	// Receive blocks up to maxWait for one message. Returns (nil, nil, nil)
	// when the wait elapses empty; callers loop.
	Receive(ctx context.Context, leaseDuration, maxWait time.Duration) (*JobMessage, *Lease, error)

	// Complete removes the message permanently. Call only after durable side
	// effects have committed.
	Complete(ctx context.Context, lease *Lease) error
	// Abandon releases the lease for immediate redelivery; the broker
	// increments its delivery counter.
	Abandon(ctx context.Context, lease *Lease) error
	// AbandonAfter parks the message until the delay elapses without counting
	// an extra delivery. Used for provider rate-limit backoff.
	AbandonAfter(ctx context.Context, lease *Lease, delay time.Duration) error
	// DeadLetter moves the message to the inspectable dead-letter queue.
	DeadLetter(ctx context.Context, lease *Lease, reason, detail string) error

	PeekDeadLetters(ctx context.Context, limit int) ([]DeadLetterEntry, error)
	// ResubmitDeadLetter re-enqueues a parked message with Attempt+1 under a
	// fresh MessageID and removes the dead-letter entry.
	ResubmitDeadLetter(ctx context.Context, messageID string) (*JobMessage, error)
}
