package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var recordsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "kafka_producer_records_total",
	Help: "Records written by the producer, by topic and result (ok, error).",
}, []string{"topic", "result"})

var ErrNoTopic = errors.New("kafka: topic is required")

// Producer fans records out to many topics over one writer. The writer has no
// topic of its own so every record names its destination.
type Producer struct {
	w   *kafka.Writer
	log *zap.Logger
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           50 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		log: zap.L().With(zap.String("component", "kafka.producer")),
	}
}

func (p *Producer) WithLogger(l *zap.Logger) *Producer {
	if l == nil {
		return p
	}
	cp := *p
	cp.log = l.With(zap.String("component", "kafka.producer"))
	return &cp
}

// Publish writes one record synchronously and injects the caller's trace
// context into its headers.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if topic == "" {
		return ErrNoTopic
	}

	ctx, span := otel.Tracer("kafka.producer").Start(ctx, "kafka.produce "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(topic),
			semconv.MessagingOperationPublish,
		),
	)
	defer span.End()

	var hdrs headerCarrier
	otel.GetTextMapPropagator().Inject(ctx, &hdrs)

	err := p.w.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: value, Headers: hdrs})
	if err != nil {
		recordsPublished.WithLabelValues(topic, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		p.log.Warn("write failed", zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	recordsPublished.WithLabelValues(topic, "ok").Inc()
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }

// KeyFromInt64 keys records by notify id so retries of one message land on
// the same partition.
func KeyFromInt64(id int64) []byte { return []byte(strconv.FormatInt(id, 10)) }
