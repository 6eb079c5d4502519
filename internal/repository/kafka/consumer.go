package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/NordCoder/notifyd/internal/obs/retry"
)

var (
	recordsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_records_total",
		Help: "Records fetched by the consumer, by result (ok, dropped).",
	}, []string{"topic", "result"})
	fetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_fetch_errors_total",
		Help: "Failed fetches from the broker.",
	}, []string{"topic"})
)

type Handler func(ctx context.Context, key, value []byte) error

type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topic         string
	FromBeginning bool
	Partitions    int
	Logger        *zap.Logger

	// HandlerAttempts bounds how often one record is handed to the handler
	// before it is committed as dropped. Zero means 3.
	HandlerAttempts int
}

// Consumer reads one topic as part of a consumer group and commits a record
// only after the handler saw it.
type Consumer struct {
	reader  *kafka.Reader
	topic   string
	log     *zap.Logger
	fetch   retry.Backoff
	handler retry.Policy
}

func NewConsumer(cfg *ConsumerConfig) *Consumer {
	log := cfg.Logger
	if log == nil {
		log = zap.L()
	}
	start := kafka.LastOffset
	if cfg.FromBeginning {
		start = kafka.FirstOffset
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:               cfg.Brokers,
		GroupID:               cfg.GroupID,
		Topic:                 cfg.Topic,
		StartOffset:           start,
		WatchPartitionChanges: true,

		MinBytes:          1e3,
		MaxBytes:          10e6,
		SessionTimeout:    10 * time.Second,
		RebalanceTimeout:  15 * time.Second,
		HeartbeatInterval: 3 * time.Second,
	})

	c := newConsumer(cfg.Topic, cfg.HandlerAttempts, log.With(zap.String("group", cfg.GroupID)))
	c.reader = r
	return c
}

func newConsumer(topic string, attempts int, log *zap.Logger) *Consumer {
	if attempts <= 0 {
		attempts = 3
	}
	return &Consumer{
		topic: topic,
		log:   log.With(zap.String("component", "kafka.consumer"), zap.String("topic", topic)),
		fetch: retry.ExpoJitter{Base: 200 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.2},
		handler: retry.Policy{
			Name:     "kafka_handler",
			Attempts: attempts,
			Backoff:  retry.ExpoJitter{Base: 100 * time.Millisecond, Max: time.Second},
			Retryable: func(err error) bool {
				return !errors.Is(err, ErrBadRecord)
			},
		},
	}
}

func (c *Consumer) WithLogger(l *zap.Logger) *Consumer {
	if l == nil {
		return c
	}
	cp := *c
	cp.log = l.With(zap.String("component", "kafka.consumer"), zap.String("topic", c.topic))
	return &cp
}

// Consume blocks until ctx is done. Fetch failures back off and retry forever.
// A record whose handler keeps failing is logged, counted and committed so it
// cannot wedge its partition.
func (c *Consumer) Consume(ctx context.Context, h Handler) error {
	c.log.Info("consumer started")
	failures := 0

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("consumer stopped")
				return ctx.Err()
			}
			wait := c.fetch.Next(failures)
			failures++
			if errors.Is(err, io.EOF) {
				c.log.Debug("fetch eof", zap.Duration("backoff", wait))
			} else {
				fetchErrors.WithLabelValues(c.topic).Inc()
				c.log.Warn("fetch failed", zap.Error(err), zap.Duration("backoff", wait))
			}
			if !sleep(ctx, wait) {
				c.log.Info("consumer stopped")
				return ctx.Err()
			}
			continue
		}
		failures = 0

		if !c.process(ctx, msg, h) {
			return ctx.Err()
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// process hands one record to h and reports whether it may be committed.
// It returns false only when ctx ended before the handler succeeded.
func (c *Consumer) process(ctx context.Context, msg kafka.Message, h Handler) bool {
	hctx := otel.GetTextMapPropagator().Extract(ctx, (*headerCarrier)(&msg.Headers))
	err := retry.Do(hctx, func() error { return h(hctx, msg.Key, msg.Value) }, c.handler)
	switch {
	case err == nil:
		recordsConsumed.WithLabelValues(c.topic, "ok").Inc()
		return true
	case ctx.Err() != nil:
		return false
	default:
		recordsConsumed.WithLabelValues(c.topic, "dropped").Inc()
		c.log.Error("record dropped",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return true
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
