package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/notifyd/internal/domain/notify"
)

var _ notify.Queue = (*Queue)(nil)

type entry struct {
	msg  notify.Message
	info notify.Info
	// attachments are kept serialized, as in the notify_queue table
	attachments string
}

// Queue is a single-process notify.Queue with the same claim and retry
// semantics as the postgres implementation.
type Queue struct {
	mu     sync.Mutex
	rows   map[int64]*entry
	nextID int64
	locker notify.Locker
	clock  notify.Clock
	policy notify.RetryPolicy
}

func NewQueue(locker notify.Locker, clock notify.Clock, policy notify.RetryPolicy) *Queue {
	if locker == nil {
		locker = NewLocker()
	}
	if clock == nil {
		clock = notify.SystemClock{}
	}
	return &Queue{
		rows:   map[int64]*entry{},
		locker: locker,
		clock:  clock,
		policy: policy.Normalize(),
	}
}

func (q *Queue) Enqueue(_ context.Context, m *notify.Message) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}
	attachments, err := notify.MarshalAttachments(m.Attachments)
	if err != nil {
		return 0, err
	}
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	id := q.nextID
	e := &entry{msg: *m, attachments: attachments}
	e.msg.NotifyID = id
	e.msg.Attachments = nil
	if e.msg.CreationDate.IsZero() {
		e.msg.CreationDate = now
	}
	e.info = notify.Info{
		NotifyID:   id,
		State:      notify.StateNotSended,
		ModifyDate: now,
		Priority:   m.Priority,
	}
	q.rows[id] = e

	m.NotifyID = id
	m.CreationDate = e.msg.CreationDate
	return id, nil
}

func (q *Queue) FetchBatch(ctx context.Context, count int) ([]*notify.Message, error) {
	if count <= 0 {
		return nil, errors.New("count must be > 0")
	}
	unlock, err := q.locker.Lock(ctx, notify.LockGetMessages)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", notify.LockGetMessages, err)
	}
	defer unlock()

	now := q.clock.Now()
	retryBefore := now.Add(-q.policy.AttemptsInterval)

	q.mu.Lock()
	defer q.mu.Unlock()

	candidates := make([]*entry, 0, count)
	for _, e := range q.rows {
		switch e.info.State {
		case notify.StateNotSended:
			candidates = append(candidates, e)
		case notify.StateError:
			if e.info.ModifyDate.Before(retryBefore) {
				candidates = append(candidates, e)
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].info.Priority != candidates[j].info.Priority {
			return candidates[i].info.Priority < candidates[j].info.Priority
		}
		return candidates[i].info.NotifyID < candidates[j].info.NotifyID
	})
	if len(candidates) > count {
		candidates = candidates[:count]
	}

	out := make([]*notify.Message, 0, len(candidates))
	for _, e := range candidates {
		m := e.msg
		a, err := notify.UnmarshalAttachments(e.attachments)
		if err != nil {
			return nil, err
		}
		m.Attachments = a
		m.Priority = e.info.Priority
		out = append(out, &m)
	}
	for _, e := range candidates {
		e.info.State = notify.StateSending
		e.info.ModifyDate = now
	}
	return out, nil
}

func (q *Queue) ReportOutcome(_ context.Context, id int64, outcome notify.Outcome) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch outcome {
	case notify.OutcomeSent, notify.OutcomeTransient, notify.OutcomeFatal:
	default:
		return fmt.Errorf("%w: %d", notify.ErrInvalidOutcome, int(outcome))
	}

	// only claimed rows take a report
	e, ok := q.rows[id]
	if !ok || e.info.State != notify.StateSending {
		return notify.ErrNotFound
	}
	if outcome == notify.OutcomeSent {
		delete(q.rows, id)
		return nil
	}
	e.info.State, e.info.Attempts = q.policy.NextState(e.info.Attempts, outcome)
	e.info.ModifyDate = q.clock.Now()
	return nil
}

func (q *Queue) ResetStuck(_ context.Context, olderThan time.Duration) (int64, error) {
	now := q.clock.Now()
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int64
	for _, e := range q.rows {
		if e.info.State == notify.StateSending && e.info.ModifyDate.Before(now.Add(-olderThan)) {
			e.info.State = notify.StateNotSended
			e.info.ModifyDate = now
			n++
		}
	}
	return n, nil
}

func (q *Queue) Stats(_ context.Context, stuckAfter time.Duration) (notify.Stats, error) {
	now := q.clock.Now()
	q.mu.Lock()
	defer q.mu.Unlock()

	var st notify.Stats
	for _, e := range q.rows {
		switch e.info.State {
		case notify.StateNotSended:
			st.NotSended++
		case notify.StateSending:
			st.Sending++
			if e.info.ModifyDate.Before(now.Add(-stuckAfter)) {
				st.Stuck++
			}
		case notify.StateError:
			st.Error++
		case notify.StateFatalError:
			st.FatalError++
		}
	}
	return st, nil
}

// Info returns a copy of the delivery row for id.
func (q *Queue) Info(id int64) (notify.Info, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.rows[id]
	if !ok {
		return notify.Info{}, false
	}
	return e.info, true
}
