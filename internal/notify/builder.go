package notify

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	requestsBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_requests_built_total", Help: "Per-recipient notify requests handed off.",
	})
	requestsPrevented = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_requests_prevented_total", Help: "Requests dropped by an interceptor.",
	}, []string{"interceptor", "place"})
)

// BeforeTransferHook runs on the caller's goroutine right before a request is
// handed off. It may mutate the request and must not block.
type BeforeTransferHook func(ctx context.Context, r *Request)

// Builder fans a notify call out into one Request per recipient and hands the
// requests to the transfer stage over a channel.
type Builder struct {
	log *zap.Logger

	mu           sync.RWMutex
	interceptors []Interceptor
	hooks        []BeforeTransferHook

	out    chan *Request
	closed chan struct{}
	once   sync.Once
}

// NewBuilder creates a builder with a hand-off channel of queueSize slots.
// queueSize 0 makes every Send rendezvous with the transfer stage.
func NewBuilder(log *zap.Logger, queueSize int) *Builder {
	if queueSize < 0 {
		queueSize = 0
	}
	return &Builder{
		log:    log.With(zap.String("component", "notify.builder")),
		out:    make(chan *Request, queueSize),
		closed: make(chan struct{}),
	}
}

// Requests is the hand-off channel consumed by Transfer.
func (b *Builder) Requests() <-chan *Request { return b.out }

// AddInterceptor registers an interceptor for every request built from now on.
func (b *Builder) AddInterceptor(i Interceptor) {
	b.mu.Lock()
	b.interceptors = append(b.interceptors, i)
	b.mu.Unlock()
}

func (b *Builder) OnBeforeTransfer(h BeforeTransferHook) {
	b.mu.Lock()
	b.hooks = append(b.hooks, h)
	b.mu.Unlock()
}

// Close stops accepting requests. Pending Send calls return ErrClosed.
func (b *Builder) Close() {
	b.once.Do(func() { close(b.closed) })
}

func (b *Builder) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

type SendOptions struct {
	TenantID          int64
	SenderNames       []string
	CheckSubscription bool
	Priority          int
}

// Send builds one request per recipient and hands each off. It blocks only
// while the hand-off channel is full.
func (b *Builder) Send(ctx context.Context, action Action, objectID string, recipients []*Recipient, opts SendOptions, args ...TagValue) error {
	if b.isClosed() {
		return ErrClosed
	}
	if action.ID == "" {
		return ErrActionRequired
	}
	if len(recipients) == 0 {
		return ErrRecipientsRequired
	}
	for _, r := range recipients {
		if r == nil {
			return ErrRecipientNil
		}
	}

	b.mu.RLock()
	chain := make([]Interceptor, 0, len(b.interceptors)+1)
	chain = append(chain, newPreventDuplicate())
	chain = append(chain, b.interceptors...)
	hooks := append([]BeforeTransferHook(nil), b.hooks...)
	b.mu.RUnlock()

	for _, rcpt := range recipients {
		req := &Request{
			TenantID:          opts.TenantID,
			Action:            action,
			ObjectID:          objectID,
			Recipient:         rcpt,
			SenderNames:       append([]string(nil), opts.SenderNames...),
			CheckSubscription: opts.CheckSubscription,
			Arguments:         append([]TagValue(nil), args...),
			Priority:          opts.Priority,
			Interceptors:      append([]Interceptor(nil), chain...),
		}

		if name, ok := prevented(ctx, req, PlacePrepare); ok {
			requestsPrevented.WithLabelValues(name, "prepare").Inc()
			b.log.Debug("request prevented",
				zap.String("interceptor", name),
				zap.String("action", action.ID),
				zap.String("recipient", rcpt.ID))
			continue
		}

		for _, h := range hooks {
			h(ctx, req)
		}

		// a free buffer slot must not win over Close
		if b.isClosed() {
			return ErrClosed
		}
		select {
		case b.out <- req:
			requestsBuilt.Inc()
		case <-b.closed:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
