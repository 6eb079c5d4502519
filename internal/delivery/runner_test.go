package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/notifyd/internal/domain/notify"
	"github.com/NordCoder/notifyd/internal/obs/retry"
	"github.com/NordCoder/notifyd/internal/repository/memory"
)

type stubSender struct {
	calls atomic.Int32
	fn    func(call int32, m *notify.Message) error
}

func (s *stubSender) Send(_ context.Context, m *notify.Message) error {
	n := s.calls.Add(1)
	if s.fn == nil {
		return nil
	}
	return s.fn(n, m)
}

func enqueue(t *testing.T, q notify.Queue, senderType string) int64 {
	t.Helper()
	id, err := q.Enqueue(context.Background(), &notify.Message{
		TenantID:   1,
		Receiver:   "u@example.com",
		Subject:    "hi",
		Content:    "body",
		SenderType: senderType,
	})
	require.NoError(t, err)
	return id
}

func newQueue() *memory.Queue {
	return memory.NewQueue(nil, nil, notify.RetryPolicy{MaxAttempts: 3, AttemptsInterval: time.Hour})
}

func TestTick_ReportsOutcomePerMessage(t *testing.T) {
	q := newQueue()
	reg := NewRegistry(retry.Policy{Attempts: 1})
	reg.Register("email.sender", &stubSender{})
	reg.Register(SenderTypeWeb, &stubSender{fn: func(int32, *notify.Message) error { return errors.New("hub down") }})

	sent := enqueue(t, q, "email.sender")
	failed := enqueue(t, q, SenderTypeWeb)
	unknown := enqueue(t, q, "sms.sender")

	r := NewRunner(zap.NewNop(), q, reg, 1, 10, time.Second)
	assert.Equal(t, 3, r.Tick(context.Background()))

	_, ok := q.Info(sent)
	assert.False(t, ok, "sent messages are deleted")

	info, _ := q.Info(failed)
	assert.Equal(t, notify.StateError, info.State)
	assert.Equal(t, 1, info.Attempts)

	info, _ = q.Info(unknown)
	assert.Equal(t, notify.StateFatalError, info.State, "no sender for the type")

	assert.Zero(t, r.Tick(context.Background()), "error rows wait for the retry interval")
}

func TestTick_PermanentErrorIsNotRetried(t *testing.T) {
	q := newQueue()
	s := &stubSender{fn: func(int32, *notify.Message) error {
		return fmt.Errorf("%w: mailbox does not exist", notify.ErrPermanent)
	}}
	reg := NewRegistry(retry.Policy{Attempts: 5})
	reg.Register("email.sender", s)

	id := enqueue(t, q, "email.sender")
	NewRunner(zap.NewNop(), q, reg, 1, 10, time.Second).Tick(context.Background())

	assert.EqualValues(t, 1, s.calls.Load())
	info, _ := q.Info(id)
	assert.Equal(t, notify.StateFatalError, info.State)
}

func TestTick_InProcessRetryRecovers(t *testing.T) {
	q := newQueue()
	s := &stubSender{fn: func(call int32, _ *notify.Message) error {
		if call == 1 {
			return errors.New("timeout")
		}
		return nil
	}}
	reg := NewRegistry(retry.Policy{Attempts: 2})
	reg.Register("email.sender", s)

	id := enqueue(t, q, "email.sender")
	NewRunner(zap.NewNop(), q, reg, 1, 10, time.Second).Tick(context.Background())

	assert.EqualValues(t, 2, s.calls.Load())
	_, ok := q.Info(id)
	assert.False(t, ok)
}

func TestRun_DrainsQueueAndStops(t *testing.T) {
	q := newQueue()
	var (
		mu   sync.Mutex
		seen = map[int64]int{}
	)
	reg := NewRegistry(retry.Policy{Attempts: 1})
	reg.Register("email.sender", &stubSender{fn: func(_ int32, m *notify.Message) error {
		mu.Lock()
		seen[m.NotifyID]++
		mu.Unlock()
		return nil
	}})
	for i := 0; i < 45; i++ {
		enqueue(t, q, "email.sender")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	r := NewRunner(zap.NewNop(), q, reg, 3, 4, 5*time.Millisecond)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		st, _ := q.Stats(context.Background(), time.Hour)
		return st == notify.Stats{}
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 45)
	for id, n := range seen {
		assert.Equal(t, 1, n, "message %d delivered %d times", id, n)
	}
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, notify.OutcomeSent, OutcomeOf(nil))
	assert.Equal(t, notify.OutcomeTransient, OutcomeOf(errors.New("x")))
	assert.Equal(t, notify.OutcomeFatal, OutcomeOf(fmt.Errorf("wrap: %w", notify.ErrPermanent)))
}
