package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NordCoder/notifyd/internal/domain/notify"
	"github.com/NordCoder/notifyd/internal/obs/retry"
)

var (
	senderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "delivery_sender_latency_seconds",
		Help:    "Latency of senders, retries included.",
		Buckets: prometheus.DefBuckets,
	}, []string{"sender_type"})
	senderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_sender_errors_total",
		Help: "Sender errors after in-process retries.",
	}, []string{"sender_type"})
)

type senderFunc func(ctx context.Context, m *notify.Message) error

func (f senderFunc) Send(ctx context.Context, m *notify.Message) error { return f(ctx, m) }

// instrument wraps a sender with tracing, metrics and a short in-process retry.
// Permanent errors are never retried.
func instrument(senderType string, s notify.Sender, pol retry.Policy) notify.Sender {
	tr := otel.Tracer("delivery.sender")
	if pol.Name == "" {
		pol.Name = "delivery_" + senderType
	}
	retryable := pol.Retryable
	pol.Retryable = func(err error) bool {
		if errors.Is(err, notify.ErrPermanent) {
			return false
		}
		return retryable == nil || retryable(err)
	}

	return senderFunc(func(ctx context.Context, m *notify.Message) error {
		ctx, span := tr.Start(ctx, "delivery.send", trace.WithAttributes(
			attribute.String("notify.sender_type", senderType),
			attribute.Int64("notify.id", m.NotifyID),
			attribute.Int64("notify.tenant_id", m.TenantID),
		))
		defer span.End()

		start := time.Now()
		err := retry.Do(ctx, func() error { return s.Send(ctx, m) }, pol)
		senderLatency.WithLabelValues(senderType).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			senderErrors.WithLabelValues(senderType).Inc()
		}
		return err
	})
}

// Registry maps a message SenderType to the sender that delivers it.
type Registry struct {
	senders map[string]notify.Sender
	policy  retry.Policy
}

func NewRegistry(pol retry.Policy) *Registry {
	return &Registry{senders: make(map[string]notify.Sender), policy: pol}
}

func (r *Registry) Register(senderType string, s notify.Sender) {
	r.senders[senderType] = instrument(senderType, s, r.policy)
}

func (r *Registry) Lookup(senderType string) (notify.Sender, bool) {
	s, ok := r.senders[senderType]
	return s, ok
}

func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.senders))
	for t := range r.senders {
		out = append(out, t)
	}
	return out
}

// OutcomeOf maps a sender result to a queue outcome.
func OutcomeOf(err error) notify.Outcome {
	switch {
	case err == nil:
		return notify.OutcomeSent
	case errors.Is(err, notify.ErrPermanent):
		return notify.OutcomeFatal
	default:
		return notify.OutcomeTransient
	}
}
