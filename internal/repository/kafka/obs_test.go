package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeaderCarrier_RoundTripsTraceContext(t *testing.T) {
	prop := propagation.TraceContext{}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})

	var hdrs headerCarrier
	prop.Inject(trace.ContextWithSpanContext(context.Background(), sc), &hdrs)
	assert.NotEmpty(t, hdrs.Get("traceparent"))

	msg := kafka.Message{Headers: hdrs}
	got := trace.SpanContextFromContext(prop.Extract(context.Background(), (*headerCarrier)(&msg.Headers)))
	assert.Equal(t, sc.TraceID(), got.TraceID())
	assert.Equal(t, sc.SpanID(), got.SpanID())
}

func TestHeaderCarrier_SetReplaces(t *testing.T) {
	h := headerCarrier{{Key: "a", Value: []byte("1")}}
	h.Set("a", "2")
	h.Set("b", "3")
	assert.Equal(t, "2", h.Get("a"))
	assert.Equal(t, "3", h.Get("b"))
	assert.Equal(t, "", h.Get("c"))
	assert.Equal(t, []string{"a", "b"}, h.Keys())
}

func TestProducer_RequiresTopic(t *testing.T) {
	p := NewProducer([]string{"localhost:1"})
	defer p.Close()
	assert.ErrorIs(t, p.Publish(context.Background(), "", nil, []byte("x")), ErrNoTopic)
	assert.Equal(t, []byte("42"), KeyFromInt64(42))
}
