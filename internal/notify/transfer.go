package notify

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	domain "github.com/NordCoder/notifyd/internal/domain/notify"
	"github.com/NordCoder/notifyd/internal/obs"
)

var (
	transferEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_transfer_enqueued_total", Help: "Messages persisted to the notify queue.",
	})
	transferErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_transfer_errors_total", Help: "Transfer failures by stage.",
	}, []string{"stage"})
)

// Transfer drains the builder's hand-off channel into the durable queue.
type Transfer struct {
	Log           *zap.Logger
	In            <-chan *Request
	Queue         domain.Queue
	Factory       MessageFactory
	Subscriptions SubscriptionChecker
}

func (t *Transfer) Run(ctx context.Context) error {
	t.Log.Info("notify transfer started")
	for {
		select {
		case <-ctx.Done():
			t.Log.Info("notify transfer stopped")
			return ctx.Err()
		case r, ok := <-t.In:
			if !ok {
				return nil
			}
			t.handle(ctx, r)
		}
	}
}

func (t *Transfer) handle(ctx context.Context, r *Request) {
	tr := otel.Tracer("notify.transfer")
	ctx, span := tr.Start(ctx, "notify.transfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("notify.action", r.Action.ID),
		attribute.Int64("notify.tenant", r.TenantID),
	)

	log := obs.WithTrace(ctx, t.Log).With(
		zap.String("action", r.Action.ID),
		zap.String("recipient", r.Recipient.ID),
	)

	if name, ok := prevented(ctx, r, PlaceTransfer); ok {
		requestsPrevented.WithLabelValues(name, "transfer").Inc()
		log.Debug("request prevented", zap.String("interceptor", name))
		return
	}

	for _, sender := range r.SenderNames {
		if r.CheckSubscription && t.Subscriptions != nil {
			ok, err := t.Subscriptions.IsSubscribed(ctx, r, sender)
			if err != nil {
				transferErrors.WithLabelValues("subscription").Inc()
				log.Warn("subscription check failed", zap.String("sender", sender), zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
		}

		m, err := t.Factory.Build(ctx, r, sender)
		if err != nil {
			transferErrors.WithLabelValues("render").Inc()
			log.Error("render message", zap.String("sender", sender), zap.Error(err))
			continue
		}
		if m == nil {
			continue
		}

		id, err := t.Queue.Enqueue(ctx, m)
		if err != nil {
			span.RecordError(err)
			transferErrors.WithLabelValues("enqueue").Inc()
			log.Error("enqueue message", zap.String("sender", sender), zap.Error(err))
			continue
		}
		transferEnqueued.Inc()
		log.Debug("message enqueued", zap.Int64("notify_id", id), zap.String("sender", sender))
	}
}
