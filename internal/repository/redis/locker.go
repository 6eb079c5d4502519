package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/NordCoder/notifyd/internal/domain/notify"
)

var _ notify.Locker = (*Locker)(nil)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker is a cross-process named lock: SET NX with a TTL, polled until acquired.
// The TTL bounds how long a crashed holder can block others.
type Locker struct {
	rdb    goredis.UniversalClient
	ttl    time.Duration
	poll   time.Duration
	prefix string
	log    *zap.Logger
}

func NewLocker(rdb goredis.UniversalClient, ttl time.Duration, log *zap.Logger) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{
		rdb:    rdb,
		ttl:    ttl,
		poll:   50 * time.Millisecond,
		prefix: "lock:",
		log:    log.With(zap.String("component", "redis.locker")),
	}
}

func (l *Locker) Lock(ctx context.Context, name string) (func(), error) {
	key := l.prefix + name
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %q: %w", name, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	return func() {
		uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(uctx, l.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
			l.log.Warn("redis unlock failed", zap.String("lock", name), zap.Error(err))
		}
	}, nil
}
