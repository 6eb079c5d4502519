package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/NordCoder/notifyd/internal/domain/notify"
	"github.com/NordCoder/notifyd/internal/obs"
)

var (
	mPicked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_picked_total", Help: "Messages claimed from the queue.",
	})
	mOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_outcomes_total", Help: "Reported delivery outcomes.",
	}, []string{"sender_type", "outcome"})
	mErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_errors_total", Help: "Queue errors while claiming or reporting.",
	})
	mTickDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "delivery_tick_duration_seconds", Help: "Tick duration.",
		Buckets: prometheus.DefBuckets,
	})
	mBatchSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "delivery_last_batch_size", Help: "Size of last claimed batch.",
	})
)

// Runner drains the durable queue: workers claim batches, deliver each message
// through the sender registered for its type and report the outcome.
type Runner struct {
	log      *zap.Logger
	queue    notify.Queue
	registry *Registry

	workers   int
	batchSize int
	waitTime  time.Duration
}

func NewRunner(log *zap.Logger, queue notify.Queue, registry *Registry, workers, batchSize int, waitTime time.Duration) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	if waitTime <= 0 {
		waitTime = time.Second
	}
	return &Runner{
		log:       log.With(zap.String("component", "delivery.runner")),
		queue:     queue,
		registry:  registry,
		workers:   workers,
		batchSize: batchSize,
		waitTime:  waitTime,
	}
}

// Run blocks until ctx is canceled and every worker has returned.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go r.worker(ctx, i, &wg)
	}
	wg.Wait()
	return nil
}

func (r *Runner) worker(ctx context.Context, id int, wg *sync.WaitGroup) {
	defer wg.Done()
	log := r.log.With(zap.Int("worker", id))
	log.Info("delivery worker started", zap.Duration("wait", r.waitTime))

	ticker := time.NewTicker(r.waitTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("delivery worker stop")
			return
		case <-ticker.C:
			// keep draining while batches come back full
			for r.Tick(ctx) == r.batchSize && ctx.Err() == nil {
			}
		}
	}
}

// Tick claims and processes one batch and returns how many messages it claimed.
func (r *Runner) Tick(ctx context.Context) int {
	t0 := time.Now()
	tr := otel.Tracer("delivery.runner")
	ctx, span := tr.Start(ctx, "delivery.tick")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.limit", r.batchSize))

	messages, err := r.queue.FetchBatch(ctx, r.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			span.RecordError(err)
			mErr.Inc()
			obs.WithTrace(ctx, r.log).Error("fetch batch", zap.Error(err))
		}
		return 0
	}
	mPicked.Add(float64(len(messages)))
	mBatchSize.Set(float64(len(messages)))

	for i, m := range messages {
		if ctx.Err() != nil {
			// left in Sending; picked up by a stuck reset
			r.log.Warn("stopping with claimed messages", zap.Int("unsent", len(messages)-i))
			break
		}
		r.deliver(ctx, m)
	}

	mTickDur.Observe(time.Since(t0).Seconds())
	return len(messages)
}

func (r *Runner) deliver(ctx context.Context, m *notify.Message) {
	log := obs.WithTrace(ctx, r.log).With(
		zap.Int64("notify_id", m.NotifyID),
		zap.String("sender_type", m.SenderType))

	var sendErr error
	sender, ok := r.registry.Lookup(m.SenderType)
	if ok {
		sendErr = sender.Send(ctx, m)
	} else {
		sendErr = fmt.Errorf("%w: no sender for type %q", notify.ErrPermanent, m.SenderType)
	}

	outcome := OutcomeOf(sendErr)
	if sendErr != nil {
		log.Warn("delivery failed", zap.Stringer("outcome", outcome), zap.Error(sendErr))
	}

	if err := r.queue.ReportOutcome(ctx, m.NotifyID, outcome); err != nil {
		mErr.Inc()
		if errors.Is(err, notify.ErrNotFound) {
			log.Warn("report outcome: message gone", zap.Stringer("outcome", outcome))
			return
		}
		log.Error("report outcome", zap.Stringer("outcome", outcome), zap.Error(err))
		return
	}
	mOutcomes.WithLabelValues(m.SenderType, outcome.String()).Inc()
}
