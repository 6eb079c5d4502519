package dispatch

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/NordCoder/notifyd/internal/domain/push"
)

var (
	dispatchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_requests_total", Help: "Outbound hub requests by reader group and result.",
	}, []string{"group", "result"})
	dispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_request_duration_seconds",
		Help:    "Outbound hub request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"group"})
	dispatchReaders = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatch_readers", Help: "Readers serving each group.",
	}, []string{"group"})
)

var ErrAlreadyRunning = errors.New("dispatcher already running")

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

type Options struct {
	MaxDegreeOfParallelism int
	// PaidPercent of the readers serve paying tenants; 0 means 70.
	PaidPercent int
	// RatePerSec caps outbound requests across all readers; 0 disables the limit.
	RatePerSec float64
	// Signer, when set, re-stamps Authorization right before a request is issued
	// so queued requests do not age out of the receiver's window.
	Signer *Signer
}

// Dispatcher drains signed requests with a fixed pool of readers split between
// paying and other tenants, so a burst from free tenants cannot starve paid ones.
type Dispatcher struct {
	log     *zap.Logger
	client  HTTPDoer
	alloc   Allocation
	limiter *rate.Limiter
	signer  *Signer

	ingress *Unbounded[push.SignedRequest]
	queues  map[string]*Unbounded[push.SignedRequest]
	running atomic.Bool
}

func New(log *zap.Logger, client HTTPDoer, opts Options) *Dispatcher {
	groups := DefaultGroups()
	if opts.PaidPercent > 0 {
		groups = []Group{
			{Label: LabelPaid, Percent: opts.PaidPercent},
			{Label: LabelOther, Percent: 100 - opts.PaidPercent},
		}
	}
	alloc := Allocate(opts.MaxDegreeOfParallelism, groups)

	queues := make(map[string]*Unbounded[push.SignedRequest], len(alloc.Readers))
	for label := range alloc.Readers {
		queues[label] = NewUnbounded[push.SignedRequest]()
	}

	d := &Dispatcher{
		log:     log.With(zap.String("component", "dispatch")),
		client:  client,
		alloc:   alloc,
		signer:  opts.Signer,
		ingress: NewUnbounded[push.SignedRequest](),
		queues:  queues,
	}
	if opts.RatePerSec > 0 {
		burst := int(opts.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return d
}

func (d *Dispatcher) Allocation() Allocation { return d.alloc }

// Enqueue never blocks. It fails with ErrStopped once Run has returned.
func (d *Dispatcher) Enqueue(r push.SignedRequest) error {
	if r.Request == nil {
		return errors.New("dispatch: nil request")
	}
	return d.ingress.Put(r)
}

// Run blocks until ctx is canceled. Readers stop at their next read and
// in-flight requests are aborted through ctx.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	d.log.Info("dispatcher started",
		zap.Bool("split", d.alloc.Split),
		zap.Int("readers", d.alloc.Total),
		zap.Any("groups", d.alloc.Readers))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.route(gctx)
		return nil
	})
	for label, n := range d.alloc.Readers {
		dispatchReaders.WithLabelValues(label).Set(float64(n))
		q := d.queues[label]
		for i := 0; i < n; i++ {
			g.Go(func() error {
				d.read(gctx, label, q)
				return nil
			})
		}
	}

	err := g.Wait()
	d.log.Info("dispatcher stopped", zap.Int("dropped", d.pending()))
	return err
}

// route classifies requests into group queues and closes ingress on shutdown.
func (d *Dispatcher) route(ctx context.Context) {
	defer func() {
		d.ingress.Close()
		for _, q := range d.queues {
			q.Close()
		}
	}()
	for {
		r, ok := d.ingress.Get(ctx)
		if !ok {
			return
		}
		if err := d.queues[d.groupOf(r)].Put(r); err != nil {
			return
		}
	}
}

func (d *Dispatcher) groupOf(r push.SignedRequest) string {
	if !d.alloc.Split {
		return LabelAll
	}
	if r.Tariff == push.TariffPaid {
		return LabelPaid
	}
	return LabelOther
}

func (d *Dispatcher) read(ctx context.Context, group string, q *Unbounded[push.SignedRequest]) {
	for {
		r, ok := q.Get(ctx)
		if !ok {
			return
		}
		d.issue(ctx, group, r)
	}
}

func (d *Dispatcher) issue(ctx context.Context, group string, r push.SignedRequest) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
	}

	// the clone keeps the caller's request and headers untouched
	req := r.Request.Clone(ctx)
	if d.signer != nil {
		req.Header.Set("Authorization", d.signer.Sign())
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	dispatchLatency.WithLabelValues(group).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			dispatchRequests.WithLabelValues(group, "aborted").Inc()
			return
		}
		dispatchRequests.WithLabelValues(group, "error").Inc()
		d.log.Warn("hub request failed",
			zap.String("group", group),
			zap.Int64("tenant_id", r.TenantID),
			zap.String("url", req.URL.String()),
			zap.Error(err))
		return
	}
	// only the status matters
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		dispatchRequests.WithLabelValues(group, "status").Inc()
		d.log.Warn("hub request rejected",
			zap.String("group", group),
			zap.Int64("tenant_id", r.TenantID),
			zap.String("url", req.URL.String()),
			zap.Int("status", resp.StatusCode))
		return
	}
	dispatchRequests.WithLabelValues(group, "ok").Inc()
}

func (d *Dispatcher) pending() int {
	n := d.ingress.Len()
	for _, q := range d.queues {
		n += q.Len()
	}
	return n
}
