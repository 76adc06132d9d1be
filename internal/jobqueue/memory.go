package jobqueue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryJob struct {
	status      Status
	payload     Payload
	token       string
	lockedUntil time.Time
}

// MemoryQueue is an in-process Queue with the same semantics as RedisQueue.
// It does not survive restarts.
type MemoryQueue struct {
	mu        sync.Mutex
	opts      Options
	jobs      map[string]*memoryJob
	waiting   []string // oldest first
	delayed   map[string]time.Time
	active    map[string]struct{}
	completed []string // oldest first
	failed    []string
	closed    bool
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		opts:    opts.withDefaults(),
		jobs:    map[string]*memoryJob{},
		delayed: map[string]time.Time{},
		active:  map[string]struct{}{},
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, key string, payload Payload) (EnqueueResult, error) {
	if err := ctx.Err(); err != nil {
		return EnqueueResult{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return EnqueueResult{}, errClosed
	}

	if existing, ok := q.jobs[key]; ok {
		if !existing.status.State.Terminal() {
			return EnqueueResult{Key: key, State: existing.status.State, Duplicate: true}, nil
		}
		q.completed = slices.DeleteFunc(q.completed, func(k string) bool { return k == key })
		q.failed = slices.DeleteFunc(q.failed, func(k string) bool { return k == key })
	}

	q.jobs[key] = &memoryJob{
		payload: payload,
		status: Status{
			Key:         key,
			State:       StateWaiting,
			MaxAttempts: q.opts.MaxAttempts,
			CreatedAt:   q.opts.Now(),
		},
	}
	q.waiting = append(q.waiting, key)
	return EnqueueResult{Key: key, State: StateWaiting}, nil
}

func (q *MemoryQueue) Claim(ctx context.Context) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, errClosed
	}

	now := q.opts.Now()
	q.promoteDelayed(now)
	if len(q.waiting) == 0 {
		return nil, ErrNoJob
	}

	key := q.waiting[0]
	q.waiting = q.waiting[1:]
	j := q.jobs[key]
	j.token = uuid.NewString()
	j.lockedUntil = now.Add(q.opts.LockDuration)
	j.status.State = StateActive
	processed := now
	j.status.ProcessedAt = &processed
	q.active[key] = struct{}{}

	return &Job{
		Key:          key,
		Payload:      j.payload,
		AttemptsMade: j.status.AttemptsMade,
		MaxAttempts:  j.status.MaxAttempts,
		CreatedAt:    j.status.CreatedAt,
		ProcessedAt:  now,
		token:        j.token,
	}, nil
}

// promoteDelayed moves delayed jobs whose backoff elapsed to the back of the
// waiting line, earliest first.
func (q *MemoryQueue) promoteDelayed(now time.Time) {
	var due []string
	for key, at := range q.delayed {
		if !at.After(now) {
			due = append(due, key)
		}
	}
	slices.SortFunc(due, func(a, b string) int { return q.delayed[a].Compare(q.delayed[b]) })
	for _, key := range due {
		delete(q.delayed, key)
		j := q.jobs[key]
		j.status.State = StateWaiting
		j.status.RetryAt = nil
		q.waiting = append(q.waiting, key)
	}
}

func (q *MemoryQueue) owned(job *Job) (*memoryJob, error) {
	j, ok := q.jobs[job.Key]
	if !ok || j.status.State != StateActive || j.token != job.token {
		return nil, ErrLockLost
	}
	return j, nil
}

func (q *MemoryQueue) Complete(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.owned(job)
	if err != nil {
		return err
	}
	delete(q.active, job.Key)
	finished := q.opts.Now()
	j.token = ""
	j.status.State = StateCompleted
	j.status.AttemptsMade++
	j.status.FailedReason = ""
	j.status.FinishedAt = &finished
	q.completed = q.retain(append(q.completed, job.Key), q.opts.KeepCompleted)
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, job *Job, reason string) (State, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.owned(job)
	if err != nil {
		return "", err
	}
	delete(q.active, job.Key)
	return q.failLocked(j, reason), nil
}

func (q *MemoryQueue) failLocked(j *memoryJob, reason string) State {
	now := q.opts.Now()
	j.token = ""
	j.status.AttemptsMade++
	j.status.FailedReason = reason

	if j.status.AttemptsMade >= j.status.MaxAttempts {
		j.status.State = StateFailed
		j.status.FinishedAt = &now
		q.failed = q.retain(append(q.failed, j.status.Key), q.opts.KeepFailed)
		return StateFailed
	}

	retryAt := now.Add(q.opts.Backoff(j.status.AttemptsMade))
	j.status.State = StateDelayed
	j.status.RetryAt = &retryAt
	q.delayed[j.status.Key] = retryAt
	return StateDelayed
}

// retain evicts the oldest finished jobs beyond keep.
func (q *MemoryQueue) retain(keys []string, keep int) []string {
	if len(keys) <= keep {
		return keys
	}
	evict := keys[:len(keys)-keep]
	for _, key := range evict {
		delete(q.jobs, key)
	}
	return slices.Clone(keys[len(keys)-keep:])
}

func (q *MemoryQueue) Status(_ context.Context, key string) (*Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	st := j.status
	return &st, nil
}

func (q *MemoryQueue) RecoverStalled(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.opts.Now()
	var stalled []string
	for key := range q.active {
		if q.jobs[key].lockedUntil.Before(now) {
			stalled = append(stalled, key)
		}
	}
	slices.Sort(stalled)
	for _, key := range stalled {
		delete(q.active, key)
		j := q.jobs[key]
		if q.failLocked(j, StalledReason) == StateDelayed {
			// a stalled run already waited out its lock; retry right away
			delete(q.delayed, key)
			j.status.State = StateWaiting
			j.status.RetryAt = nil
			q.waiting = append([]string{key}, q.waiting...)
		}
	}
	return len(stalled), nil
}

func (q *MemoryQueue) Counts(_ context.Context) (Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Counts{
		Waiting:   int64(len(q.waiting)),
		Delayed:   int64(len(q.delayed)),
		Active:    int64(len(q.active)),
		Completed: int64(len(q.completed)),
		Failed:    int64(len(q.failed)),
	}, nil
}

// Close is safe to call more than once.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}
