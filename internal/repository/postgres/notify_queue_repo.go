package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/notifyd/internal/domain/notify"
)

var _ notify.Queue = (*NotifyQueueRepo)(nil)

type NotifyQueueRepo struct {
	db     *DB
	tx     Transactor
	locker notify.Locker
	clock  notify.Clock
	policy notify.RetryPolicy
}

func NewNotifyQueueRepo(db *DB, tx Transactor, locker notify.Locker, clock notify.Clock, policy notify.RetryPolicy) *NotifyQueueRepo {
	if clock == nil {
		clock = notify.SystemClock{}
	}
	return &NotifyQueueRepo{db: db, tx: tx, locker: locker, clock: clock, policy: policy.Normalize()}
}

const (
	qQueueInsert = `
INSERT INTO notify_queue (tenant_id, sender, receiver, subject, content_type, content,
                          sender_type, reply_to, creation_date, attachments, auto_submitted)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING notify_id;`

	qInfoInsert = `
INSERT INTO notify_info (notify_id, state, attempts, modify_date, priority)
VALUES ($1, $2, 0, $3, $4);`

	qInfoDelete  = `DELETE FROM notify_info WHERE notify_id = $1 AND state = $2;`
	qQueueDelete = `DELETE FROM notify_queue WHERE notify_id = $1;`
)

var messageColumns = []string{
	"q.notify_id", "q.tenant_id", "q.sender", "q.receiver", "q.subject", "q.content_type",
	"q.content", "q.sender_type", "q.reply_to", "q.creation_date", "q.attachments",
	"q.auto_submitted", "i.priority",
}

func scanMessage(row pgx.Row, m *notify.Message) error {
	var attachments string
	if err := row.Scan(
		&m.NotifyID,
		&m.TenantID,
		&m.Sender,
		&m.Receiver,
		&m.Subject,
		&m.ContentType,
		&m.Content,
		&m.SenderType,
		&m.ReplyTo,
		&m.CreationDate,
		&attachments,
		&m.AutoSubmitted,
		&m.Priority,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notify.ErrNotFound
		}
		return fmt.Errorf("scan notify message: %w", err)
	}
	a, err := notify.UnmarshalAttachments(attachments)
	if err != nil {
		return err
	}
	m.Attachments = a
	return nil
}

func (r *NotifyQueueRepo) Enqueue(ctx context.Context, m *notify.Message) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}
	attachments, err := notify.MarshalAttachments(m.Attachments)
	if err != nil {
		return 0, err
	}

	now := r.clock.Now()
	created := m.CreationDate
	if created.IsZero() {
		created = now
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var id int64
	err = r.tx.WithTx(ctx, func(txCtx context.Context) error {
		eq := r.db.execQueryer(txCtx)
		if err := eq.QueryRow(txCtx, qQueueInsert,
			m.TenantID, m.Sender, m.Receiver, m.Subject, m.ContentType, m.Content,
			m.SenderType, m.ReplyTo, created, attachments, m.AutoSubmitted,
		).Scan(&id); err != nil {
			return fmt.Errorf("insert notify_queue: %w", err)
		}
		if _, err := eq.Exec(txCtx, qInfoInsert, id, int(notify.StateNotSended), now, m.Priority); err != nil {
			return fmt.Errorf("insert notify_info: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}

	m.NotifyID = id
	m.CreationDate = created
	return id, nil
}

func (r *NotifyQueueRepo) FetchBatch(ctx context.Context, count int) ([]*notify.Message, error) {
	if count <= 0 {
		return nil, errors.New("count must be > 0")
	}

	unlock, err := r.locker.Lock(ctx, notify.LockGetMessages)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", notify.LockGetMessages, err)
	}
	defer unlock()

	// the claim must finish once the lock is held
	ctx, cancel := r.db.withTimeout(context.WithoutCancel(ctx))
	defer cancel()

	now := r.clock.Now()
	selQ, selArgs, err := psql.
		Select(messageColumns...).
		From("notify_queue q").
		Join("notify_info i ON i.notify_id = q.notify_id").
		Where(sq.Or{
			sq.Eq{"i.state": int(notify.StateNotSended)},
			sq.And{
				sq.Eq{"i.state": int(notify.StateError)},
				sq.Lt{"i.modify_date": now.Add(-r.policy.AttemptsInterval)},
			},
		}).
		OrderBy("i.priority ASC", "q.notify_id ASC").
		Limit(uint64(count)).
		Suffix("FOR UPDATE OF i SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build fetch batch: %w", err)
	}

	var out []*notify.Message
	err = r.tx.WithTx(ctx, func(txCtx context.Context) error {
		eq := r.db.execQueryer(txCtx)
		rows, err := eq.Query(txCtx, selQ, selArgs...)
		if err != nil {
			return fmt.Errorf("select batch: %w", err)
		}
		ids := make([]int64, 0, count)
		for rows.Next() {
			var m notify.Message
			if err := scanMessage(rows, &m); err != nil {
				rows.Close()
				return err
			}
			out = append(out, &m)
			ids = append(ids, m.NotifyID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		updQ, updArgs, err := psql.
			Update("notify_info").
			Set("state", int(notify.StateSending)).
			Set("modify_date", now).
			Where("notify_id = ANY(?)", ids).
			ToSql()
		if err != nil {
			return fmt.Errorf("build mark sending: %w", err)
		}
		if _, err := eq.Exec(txCtx, updQ, updArgs...); err != nil {
			return fmt.Errorf("mark sending: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch batch: %w", err)
	}
	return out, nil
}

// ReportOutcome applies to claimed (Sending) rows only. Any other row, or a
// missing one, yields ErrNotFound.
func (r *NotifyQueueRepo) ReportOutcome(ctx context.Context, id int64, outcome notify.Outcome) error {
	ctx, cancel := r.db.withTimeout(context.WithoutCancel(ctx))
	defer cancel()

	switch outcome {
	case notify.OutcomeSent:
		return r.tx.WithTx(ctx, func(txCtx context.Context) error {
			eq := r.db.execQueryer(txCtx)
			tag, err := eq.Exec(txCtx, qInfoDelete, id, int(notify.StateSending))
			if err != nil {
				return fmt.Errorf("delete notify_info: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return notify.ErrNotFound
			}
			if _, err := eq.Exec(txCtx, qQueueDelete, id); err != nil {
				return fmt.Errorf("delete notify_queue: %w", err)
			}
			return nil
		})

	case notify.OutcomeTransient, notify.OutcomeFatal:
		state := sq.Expr("CASE WHEN attempts + 1 >= ? THEN ? ELSE ? END",
			r.policy.MaxAttempts, int(notify.StateFatalError), int(notify.StateError))
		if outcome == notify.OutcomeFatal {
			state = sq.Expr("?", int(notify.StateFatalError))
		}
		q, args, err := psql.
			Update("notify_info").
			Set("attempts", sq.Expr("attempts + 1")).
			Set("state", state).
			Set("modify_date", r.clock.Now()).
			Where(sq.Eq{"notify_id": id}).
			Where(sq.Eq{"state": int(notify.StateSending)}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build report outcome: %w", err)
		}
		tag, err := r.db.execQueryer(ctx).Exec(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("report outcome: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return notify.ErrNotFound
		}
		return nil

	default:
		return fmt.Errorf("%w: %d", notify.ErrInvalidOutcome, int(outcome))
	}
}

func (r *NotifyQueueRepo) ResetStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	now := r.clock.Now()
	q, args, err := psql.
		Update("notify_info").
		Set("state", int(notify.StateNotSended)).
		Set("modify_date", now).
		Where(sq.Eq{"state": int(notify.StateSending)}).
		Where(sq.Lt{"modify_date": now.Add(-olderThan)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build reset stuck: %w", err)
	}
	tag, err := r.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("reset stuck: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *NotifyQueueRepo) Stats(ctx context.Context, stuckAfter time.Duration) (notify.Stats, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var st notify.Stats
	q, args, err := psql.
		Select("state", "COUNT(*)").
		From("notify_info").
		GroupBy("state").
		ToSql()
	if err != nil {
		return st, fmt.Errorf("build stats: %w", err)
	}
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return st, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			state int
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return st, fmt.Errorf("scan stats: %w", err)
		}
		switch notify.State(state) {
		case notify.StateNotSended:
			st.NotSended = n
		case notify.StateSending:
			st.Sending = n
		case notify.StateError:
			st.Error = n
		case notify.StateFatalError:
			st.FatalError = n
		}
	}
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("rows: %w", err)
	}

	q, args, err = psql.
		Select("COUNT(*)").
		From("notify_info").
		Where(sq.Eq{"state": int(notify.StateSending)}).
		Where(sq.Lt{"modify_date": r.clock.Now().Add(-stuckAfter)}).
		ToSql()
	if err != nil {
		return st, fmt.Errorf("build stuck count: %w", err)
	}
	if err := r.db.Pool.QueryRow(ctx, q, args...).Scan(&st.Stuck); err != nil {
		return st, fmt.Errorf("stuck count: %w", err)
	}
	return st, nil
}
