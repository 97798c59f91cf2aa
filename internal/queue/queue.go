package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	PriorityHigh   = 1
	PriorityNormal = 5

	DefaultPrefix      = "quizlive:notifications"
	DefaultMaxAttempts = 3
	DefaultBackoff     = time.Second
	DefaultLease       = 30 * time.Second

	maxBackoffShift = 16
)

var ErrQueueUnavailable = errors.New("queue unavailable")

// Backoff is exponential: Delay, 2*Delay, 4*Delay, ...
type Backoff struct {
	Delay time.Duration `json:"delay"`
}

// Next returns the wait before the next run after the given number of
// failed attempts.
func (b Backoff) Next(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	shift := attempts - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}

	return b.Delay << shift
}

type Job struct {
	Id             string    `json:"id"`
	NotificationId string    `json:"notificationId"`
	UserId         string    `json:"userId"`
	Type           string    `json:"type"`
	Priority       int       `json:"priority"`
	Attempts       int       `json:"attempts"`
	MaxAttempts    int       `json:"maxAttempts"`
	Backoff        Backoff   `json:"backoff"`
	EnqueuedAt     time.Time `json:"enqueuedAt"`
}

// Queue is a durable, at-least-once job queue. A dequeued job is leased and
// comes back if it is neither acked nor retried before the lease expires.
type Queue interface {
	Enqueue(ctx context.Context, job Job) (Job, error)
	Dequeue(ctx context.Context) (Job, bool, error)
	Ack(ctx context.Context, job Job) error
	// Retry reports true when the job has used all of its attempts and was
	// dropped instead of rescheduled.
	Retry(ctx context.Context, job Job) (bool, error)
	Counts(ctx context.Context) (Counts, error)
}

// Counts is the number of jobs in each state.
type Counts struct {
	Waiting int64
	Delayed int64
	Active  int64
}

type Options struct {
	Prefix      string
	MaxAttempts int
	Backoff     time.Duration
	Lease       time.Duration
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.Lease <= 0 {
		o.Lease = DefaultLease
	}
	return o
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrQueueUnavailable, err)
}
