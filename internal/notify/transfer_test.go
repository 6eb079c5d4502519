package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domain "github.com/NordCoder/notifyd/internal/domain/notify"
	"github.com/NordCoder/notifyd/internal/repository/memory"
)

type denySender struct{ sender string }

func (d denySender) IsSubscribed(_ context.Context, _ *Request, sender string) (bool, error) {
	return sender != d.sender, nil
}

type failingQueue struct{ domain.Queue }

func (failingQueue) Enqueue(context.Context, *domain.Message) (int64, error) {
	return 0, errors.New("db down")
}

func runTransfer(t *testing.T, b *Builder, q domain.Queue, subs SubscriptionChecker) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	tr := &Transfer{
		Log:           zap.NewNop(),
		In:            b.Requests(),
		Queue:         q,
		Factory:       PlainFactory{DefaultSender: "noreply@example.com"},
		Subscriptions: subs,
	}
	done := make(chan struct{})
	go func() {
		_ = tr.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestTransfer_EnqueuesOneMessagePerSender(t *testing.T) {
	q := memory.NewQueue(nil, nil, domain.RetryPolicy{MaxAttempts: 3})
	b := NewBuilder(zap.NewNop(), 0)
	stop := runTransfer(t, b, q, AllowAll{})

	err := b.Send(context.Background(), testAction, "doc-1",
		[]*Recipient{{ID: "u1", Addresses: []string{"u1@example.com"}}, {ID: "u2"}},
		SendOptions{TenantID: 7, SenderNames: []string{"email.sender", "messenger.web"}, Priority: 2},
		TagValue{Tag: TagSubject, Value: "Hello"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, _ := q.Stats(context.Background(), time.Hour)
		return st.NotSended == 4
	}, time.Second, 5*time.Millisecond)
	stop()

	got, err := q.FetchBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for _, m := range got {
		assert.Equal(t, int64(7), m.TenantID)
		assert.Equal(t, "Hello", m.Subject)
		assert.Equal(t, 2, m.Priority)
		assert.Equal(t, "noreply@example.com", m.Sender)
	}
	assert.Equal(t, "u1@example.com", got[0].Receiver)
	assert.Equal(t, "email.sender", got[0].SenderType)
	assert.Equal(t, "messenger.web", got[1].SenderType)
	assert.Equal(t, "u2", got[2].Receiver)
}

func TestTransfer_SubscriptionAndTransferInterceptors(t *testing.T) {
	q := memory.NewQueue(nil, nil, domain.RetryPolicy{MaxAttempts: 3})
	b := NewBuilder(zap.NewNop(), 0)
	b.AddInterceptor(InterceptorFunc{
		InterceptorName:  "mute-u2",
		InterceptorPlace: PlaceTransfer,
		Fn: func(_ context.Context, r *Request, _ Place) bool {
			return r.Recipient.ID == "u2"
		},
	})
	stop := runTransfer(t, b, q, denySender{sender: "messenger.web"})

	err := b.Send(context.Background(), testAction, "",
		[]*Recipient{{ID: "u1"}, {ID: "u2"}},
		SendOptions{SenderNames: []string{"email.sender", "messenger.web"}, CheckSubscription: true})
	require.NoError(t, err)
	// the second Send blocks until the first two requests were consumed
	require.NoError(t, b.Send(context.Background(), testAction, "", []*Recipient{{ID: "u3"}},
		SendOptions{SenderNames: []string{"messenger.web"}}))

	require.Eventually(t, func() bool {
		st, _ := q.Stats(context.Background(), time.Hour)
		return st.NotSended == 2
	}, time.Second, 5*time.Millisecond)
	stop()

	got, err := q.FetchBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].Receiver)
	assert.Equal(t, "email.sender", got[0].SenderType)
	assert.Equal(t, "u3", got[1].Receiver)
	assert.Equal(t, "messenger.web", got[1].SenderType, "subscription is only checked when requested")
}

func TestTransfer_EnqueueErrorDoesNotStopLoop(t *testing.T) {
	b := NewBuilder(zap.NewNop(), 0)
	stop := runTransfer(t, b, failingQueue{}, AllowAll{})
	defer stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Send(context.Background(), testAction, "", []*Recipient{{ID: "u1"}},
			SendOptions{SenderNames: []string{"email.sender"}}))
	}
}

func TestPlainFactory_RendersArguments(t *testing.T) {
	r := &Request{
		TenantID:  1,
		Action:    Action{ID: "a", Name: "Task assigned"},
		ObjectID:  "task-9",
		Recipient: &Recipient{ID: "u1"},
		Arguments: []TagValue{{Tag: "Title", Value: "Ship it"}, {Tag: "Author", Value: "ann"}, {Tag: TagReplyTo, Value: "pm@example.com"}},
	}
	m, err := PlainFactory{DefaultSender: "bot"}.Build(context.Background(), r, "email.sender")
	require.NoError(t, err)
	assert.Equal(t, "Task assigned", m.Subject)
	assert.Equal(t, "Task assigned (task-9)\nAuthor: ann\nTitle: Ship it", m.Content)
	assert.Equal(t, "pm@example.com", m.ReplyTo)
	assert.Equal(t, "bot", m.Sender)
	assert.Equal(t, "u1", m.Receiver)
}

func TestController_HandleInvalidEventIsSwallowed(t *testing.T) {
	b := NewBuilder(zap.NewNop(), 1)
	c := &Controller{Log: zap.NewNop(), Builder: b}

	require.NoError(t, c.Handle(context.Background(), &Event{Action: testAction}))

	err := c.Handle(context.Background(), &Event{
		TenantID:    3,
		Action:      testAction,
		Recipients:  []*Recipient{{ID: "u1"}},
		SenderNames: []string{"email.sender"},
		Args:        map[string]any{"Title": "x"},
	})
	require.NoError(t, err)
	r := <-b.Requests()
	assert.Equal(t, int64(3), r.TenantID)
	v, ok := r.Argument("Title")
	assert.True(t, ok)
	assert.Equal(t, "x", v)
}
