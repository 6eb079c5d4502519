package main

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	config "github.com/NordCoder/notifyd/internal/config/notify-service"
	"github.com/NordCoder/notifyd/internal/delivery"
	"github.com/NordCoder/notifyd/internal/dispatch"
	domain "github.com/NordCoder/notifyd/internal/domain/notify"
	"github.com/NordCoder/notifyd/internal/domain/push"
	"github.com/NordCoder/notifyd/internal/obs/retry"
	"github.com/NordCoder/notifyd/internal/repository/kafka"
	"github.com/NordCoder/notifyd/internal/repository/memory"
	pg "github.com/NordCoder/notifyd/internal/repository/postgres"
	redisinfra "github.com/NordCoder/notifyd/internal/repository/redis"
)

const redisLockTTL = 30 * time.Second

type storage struct {
	queue  domain.Queue
	health func(context.Context) error
	close  func()
}

func wireStorage(ctx context.Context, cfg *config.Config, rdb goredis.UniversalClient, l *zap.Logger) (*storage, error) {
	policy := domain.RetryPolicy{
		MaxAttempts:      cfg.Process.MaxAttempts,
		AttemptsInterval: cfg.Process.AttemptsInterval,
	}

	if cfg.Queue.Driver == "memory" {
		l.Warn("using in-memory queue, messages are lost on restart")
		return &storage{
			queue:  memory.NewQueue(memory.NewLocker(), domain.SystemClock{}, policy),
			health: func(context.Context) error { return nil },
			close:  func() {},
		}, nil
	}

	db, err := pg.NewDB(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}

	var locker domain.Locker
	switch cfg.Queue.Locker {
	case "redis":
		locker = redisinfra.NewLocker(rdb, redisLockTTL, l)
	case "memory":
		locker = memory.NewLocker()
	default:
		locker = pg.NewAdvisoryLocker(db, l)
	}

	return &storage{
		queue:  pg.NewNotifyQueueRepo(db, pg.NewTransactor(db, l), locker, domain.SystemClock{}, policy),
		health: db.Ping,
		close:  db.Close,
	}, nil
}

func wireTariffs(cfg *config.Config, rdb goredis.UniversalClient) push.TariffResolver {
	if cfg.Tariffs.Source == "redis" {
		return redisinfra.NewTariffCache(rdb)
	}
	return dispatch.NewStaticTariffs(cfg.Tariffs.PaidTenants)
}

func wireDispatch(cfg *config.Config, tariffs push.TariffResolver, l *zap.Logger) (*dispatch.Dispatcher, *dispatch.HubClient) {
	hub := cfg.Web.Hub
	signer := dispatch.NewSigner(cfg.Core.KeyID, cfg.Core.MachineKey)
	d := dispatch.New(l, dispatch.NewHTTPClient(hub), dispatch.Options{
		MaxDegreeOfParallelism: hub.MaxDegreeOfParallelism,
		PaidPercent:            hub.PaidPercent,
		RatePerSec:             hub.RatePerSec,
		Signer:                 signer,
	})
	return d, dispatch.NewHubClient(hub.Internal, signer, tariffs, d, l)
}

func wireSenders(cfg *config.Config, prod *kafka.Producer, hub *dispatch.HubClient, l *zap.Logger) *delivery.Registry {
	reg := delivery.NewRegistry(retry.DefaultSendPolicy("delivery", l))
	for _, senderType := range cfg.Out.Senders {
		reg.Register(senderType, delivery.NewKafkaSender(prod, cfg.Out.TopicPrefix, senderType))
	}
	if hub.Enabled() {
		reg.Register(delivery.SenderTypeWeb, delivery.NewPushSender(hub, cfg.Web.Hub.HubName, cfg.Web.Hub.Method))
	}
	l.Info("senders registered", zap.Strings("types", reg.Types()))
	return reg
}
