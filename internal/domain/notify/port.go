package notify

import (
	"context"
	"time"
)

// LockGetMessages is the name of the lock guarding the claim window of FetchBatch.
const LockGetMessages = "get_notify_messages"

type Queue interface {
	Enqueue(ctx context.Context, m *Message) (int64, error)

	// FetchBatch claims up to count messages and marks them Sending before returning.
	FetchBatch(ctx context.Context, count int) ([]*Message, error)

	ReportOutcome(ctx context.Context, id int64, outcome Outcome) error

	// ResetStuck moves Sending rows older than olderThan back to NotSended.
	ResetStuck(ctx context.Context, olderThan time.Duration) (int64, error)

	Stats(ctx context.Context, stuckAfter time.Duration) (Stats, error)
}

// Locker provides named mutual exclusion, possibly across processes.
type Locker interface {
	Lock(ctx context.Context, name string) (unlock func(), err error)
}

type Sender interface {
	Send(ctx context.Context, m *Message) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// RetryPolicy bounds the retry state machine.
type RetryPolicy struct {
	MaxAttempts      int
	AttemptsInterval time.Duration
}

func (p RetryPolicy) Normalize() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 10
	}
	if p.AttemptsInterval < 0 {
		p.AttemptsInterval = 0
	}
	return p
}

// NextState returns the state and attempt count after a failed delivery.
func (p RetryPolicy) NextState(attempts int, outcome Outcome) (State, int) {
	attempts++
	if outcome == OutcomeFatal || attempts >= p.MaxAttempts {
		return StateFatalError, attempts
	}
	return StateError, attempts
}
