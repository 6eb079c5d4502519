package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/NordCoder/notifyd/internal/domain/notify"
)

var (
	queueRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "notify_queue_rows", Help: "Queue rows by delivery state.",
	}, []string{"state"})
	queueStuck = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notify_queue_stuck_rows", Help: "Sending rows older than the stuck threshold.",
	})
	monitorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_queue_monitor_errors_total", Help: "Failed queue stats collections.",
	})
)

// Monitor periodically exports queue statistics and warns about rows that
// need an operator: stuck Sending rows and FatalError rows.
type Monitor struct {
	log        *zap.Logger
	queue      notify.Queue
	stuckAfter time.Duration
	c          *cron.Cron
}

func NewMonitor(log *zap.Logger, queue notify.Queue, schedule string, stuckAfter time.Duration) (*Monitor, error) {
	m := &Monitor{
		log:        log.With(zap.String("component", "maintenance")),
		queue:      queue,
		stuckAfter: stuckAfter,
		c: cron.New(cron.WithParser(cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
	}
	if _, err := m.c.AddFunc(schedule, func() { _, _ = m.Check(context.Background()) }); err != nil {
		return nil, fmt.Errorf("maintenance schedule %q: %w", schedule, err)
	}
	return m, nil
}

// Check collects stats once and updates the gauges.
func (m *Monitor) Check(ctx context.Context) (notify.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	st, err := m.queue.Stats(ctx, m.stuckAfter)
	if err != nil {
		monitorErrors.Inc()
		m.log.Warn("queue stats", zap.Error(err))
		return st, err
	}

	queueRows.WithLabelValues(notify.StateNotSended.String()).Set(float64(st.NotSended))
	queueRows.WithLabelValues(notify.StateSending.String()).Set(float64(st.Sending))
	queueRows.WithLabelValues(notify.StateError.String()).Set(float64(st.Error))
	queueRows.WithLabelValues(notify.StateFatalError.String()).Set(float64(st.FatalError))
	queueStuck.Set(float64(st.Stuck))

	if st.Stuck > 0 {
		m.log.Warn("stuck messages in sending state",
			zap.Int64("stuck", st.Stuck),
			zap.Duration("older_than", m.stuckAfter))
	}
	if st.FatalError > 0 {
		m.log.Warn("messages failed permanently", zap.Int64("fatal", st.FatalError))
	}
	return st, nil
}

// Run starts the schedule and blocks until ctx is canceled and the running
// job, if any, has finished.
func (m *Monitor) Run(ctx context.Context) error {
	m.c.Start()
	m.log.Info("maintenance started", zap.Int("entries", len(m.c.Entries())))
	<-ctx.Done()
	<-m.c.Stop().Done()
	m.log.Info("maintenance stopped")
	return nil
}
