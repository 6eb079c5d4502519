package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/notifyd/internal/domain/notify"
	"go.uber.org/zap"
)

var _ notify.Locker = (*AdvisoryLocker)(nil)

// AdvisoryLocker implements named locks with session-level postgres advisory
// locks, so every process sharing the database is serialized.
type AdvisoryLocker struct {
	db  *DB
	log *zap.Logger
}

func NewAdvisoryLocker(db *DB, log *zap.Logger) *AdvisoryLocker {
	return &AdvisoryLocker{db: db, log: log.With(zap.String("component", "postgres.locker"))}
}

const (
	qAdvisoryLock   = `SELECT pg_advisory_lock(hashtext($1));`
	qAdvisoryUnlock = `SELECT pg_advisory_unlock(hashtext($1));`
)

func (l *AdvisoryLocker) Lock(ctx context.Context, name string) (func(), error) {
	conn, err := l.db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn for lock %q: %w", name, err)
	}
	if _, err := conn.Exec(ctx, qAdvisoryLock, name); err != nil {
		conn.Release()
		return nil, fmt.Errorf("advisory lock %q: %w", name, err)
	}

	return func() {
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(uctx, qAdvisoryUnlock, name); err != nil {
			// closing the session releases the lock server-side
			l.log.Warn("advisory unlock failed, dropping connection", zap.String("lock", name), zap.Error(err))
			_ = conn.Conn().Close(uctx)
		}
		conn.Release()
	}, nil
}
