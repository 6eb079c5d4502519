package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NordCoder/notifyd/internal/admin"
	config "github.com/NordCoder/notifyd/internal/config/notify-service"
	"github.com/NordCoder/notifyd/internal/delivery"
	"github.com/NordCoder/notifyd/internal/maintenance"
	"github.com/NordCoder/notifyd/internal/notify"
	"github.com/NordCoder/notifyd/internal/obs"
	"github.com/NordCoder/notifyd/internal/repository/kafka"
	redisinfra "github.com/NordCoder/notifyd/internal/repository/redis"
)

func main() {
	configPath := flag.String("config", "../config/notify-service.yaml", "path to config file")
	flag.Parse()

	// init
	root, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	// otel
	otelCloser, err := obs.SetupOTel(root, &cfg.OTel)
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// redis
	var rdb *goredis.Client
	if cfg.NeedsRedis() {
		rdb, err = redisinfra.NewClient(root, cfg.Redis)
		if err != nil {
			l.Fatal("redis connect", zap.Error(err))
		}
		defer func() { _ = rdb.Close() }()
	}

	// queue
	st, err := wireStorage(root, cfg, rdb, l)
	if err != nil {
		l.Fatal("storage", zap.Error(err))
	}
	defer st.close()

	// metrics and admin
	adm := &admin.Handler{Log: l, Queue: st.queue, StuckAfter: cfg.Process.StuckAfter}
	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, st.health, l, adm.Mount)

	// kafka
	prod := kafka.NewProducer(cfg.Out.Brokers).WithLogger(l)
	defer func() { _ = prod.Close() }()

	// dispatch
	disp, hub := wireDispatch(cfg, wireTariffs(cfg, rdb), l)
	if !hub.Enabled() {
		l.Info("web.hub.internal is empty, web push disabled")
	}

	// delivery
	runner := delivery.NewRunner(l, st.queue, wireSenders(cfg, prod, hub, l),
		cfg.Process.Workers, cfg.Process.BatchSize, cfg.Process.PollInterval)

	monitor, err := maintenance.NewMonitor(l, st.queue, cfg.Maintenance.Schedule, cfg.Process.StuckAfter)
	if err != nil {
		l.Fatal("maintenance", zap.Error(err))
	}

	// request builder
	builder := notify.NewBuilder(l, cfg.Notify.QueueSize)
	transfer := &notify.Transfer{
		Log:           l,
		In:            builder.Requests(),
		Queue:         st.queue,
		Factory:       notify.PlainFactory{DefaultSender: cfg.Notify.DefaultSender},
		Subscriptions: notify.AllowAll{},
	}

	// start
	g, gctx := errgroup.WithContext(root)
	g.Go(func() error { return disp.Run(gctx) })
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return transfer.Run(gctx) })
	if cfg.In.Enable {
		cons := kafka.BootstrapConsumer(root, &kafka.ConsumerConfig{
			Brokers:    cfg.In.Brokers,
			GroupID:    cfg.In.GroupID,
			Topic:      cfg.In.Topic,
			Partitions: cfg.In.Partitions,
			Logger:     l,
		}, l).WithLogger(l)
		defer func() { _ = cons.Close() }()

		ctrl := &notify.Controller{Log: l, Sub: cons, Builder: builder}
		g.Go(func() error { return ctrl.Run(gctx) })
	}

	l.Info("notify-service started",
		zap.String("queue", cfg.Queue.Driver),
		zap.Any("dispatch", disp.Allocation()))

	// loop
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("component error", zap.Error(err))
	}
	builder.Close()

	// graceful metrics server shutdown
	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
