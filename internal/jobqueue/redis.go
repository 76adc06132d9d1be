package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis layout, all under "queue:{name}:":
//
//	job:{key}   hash   payload, state, attemptsMade, maxAttempts, failedReason,
//	                   timestamp, processedOn, finishedOn, retryAt (unix ms)
//	lock:{key}  string claim token, expires after LockDuration
//	wait        list   LPUSH on enqueue, claimed from the right (FIFO)
//	active      list   jobs currently claimed
//	delayed     zset   score = unix ms the job becomes ready again
//	completed   zset   score = finishedOn, trimmed to KeepCompleted
//	failed      zset   score = finishedOn, trimmed to KeepFailed
const maxTxRetries = 5

// RedisQueue is the durable Queue.
type RedisQueue struct {
	client *redis.Client
	opts   Options
	prefix string
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue wraps client. Close closes the client.
func NewRedisQueue(client *redis.Client, opts Options) *RedisQueue {
	opts = opts.withDefaults()
	return &RedisQueue{
		client: client,
		opts:   opts,
		prefix: "queue:" + opts.Name + ":",
	}
}

func (q *RedisQueue) jobKey(key string) string  { return q.prefix + "job:" + key }
func (q *RedisQueue) lockKey(key string) string { return q.prefix + "lock:" + key }
func (q *RedisQueue) listKey(name string) string {
	return q.prefix + name
}

func (q *RedisQueue) now() time.Time { return q.opts.Now() }

// Enqueue adds a job unless the key is already waiting, delayed or active.
// It gives up after EnqueueTimeout even if ctx allows longer.
func (q *RedisQueue) Enqueue(ctx context.Context, key string, payload Payload) (EnqueueResult, error) {
	ctx, cancel := context.WithTimeout(ctx, q.opts.EnqueueTimeout)
	defer cancel()

	data, err := json.Marshal(payload)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("jobqueue: encode payload: %w", err)
	}

	hash := q.jobKey(key)
	var result EnqueueResult
	txf := func(tx *redis.Tx) error {
		state, err := tx.HGet(ctx, hash, "state").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil && !State(state).Terminal() {
			placed, err := q.placed(ctx, tx, key, State(state))
			if err != nil {
				return err
			}
			if placed {
				result = EnqueueResult{Key: key, State: State(state), Duplicate: true}
				return nil
			}
			slog.Warn("jobqueue: replacing orphaned job", "queue", q.opts.Name, "job_key", key, "state", state)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, hash)
			pipe.ZRem(ctx, q.listKey("completed"), key)
			pipe.ZRem(ctx, q.listKey("failed"), key)
			pipe.HSet(ctx, hash, map[string]any{
				"payload":      string(data),
				"state":        string(StateWaiting),
				"attemptsMade": 0,
				"maxAttempts":  q.opts.MaxAttempts,
				"timestamp":    q.now().UnixMilli(),
			})
			pipe.LPush(ctx, q.listKey("wait"), key)
			return nil
		})
		result = EnqueueResult{Key: key, State: StateWaiting}
		return err
	}

	for range maxTxRetries {
		err := q.client.Watch(ctx, txf, hash)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return EnqueueResult{}, fmt.Errorf("jobqueue: enqueue %s: %w", key, err)
	}
	return EnqueueResult{}, fmt.Errorf("jobqueue: enqueue %s: too much contention", key)
}

// placed reports whether a job in a non-terminal state is still reachable from
// the list or set that state implies. A record that is not can never be
// claimed again and is safe to replace.
func (q *RedisQueue) placed(ctx context.Context, tx *redis.Tx, key string, state State) (bool, error) {
	var err error
	switch state {
	case StateWaiting:
		err = tx.LPos(ctx, q.listKey("wait"), key, redis.LPosArgs{}).Err()
	case StateDelayed:
		err = tx.ZScore(ctx, q.listKey("delayed"), key).Err()
	case StateActive:
		n, lerr := tx.Exists(ctx, q.lockKey(key)).Result()
		if lerr != nil {
			return false, lerr
		}
		if n > 0 {
			return true, nil
		}
		err = tx.LPos(ctx, q.listKey("active"), key, redis.LPosArgs{}).Err()
	default:
		return true, nil
	}
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return err == nil, err
}

// Claim promotes due delayed jobs, then moves the oldest waiting job to
// active and locks it.
func (q *RedisQueue) Claim(ctx context.Context) (*Job, error) {
	now := q.now()
	token := uuid.NewString()
	reply, err := claimScript.Run(ctx, q.client,
		[]string{q.listKey("wait"), q.listKey("active"), q.listKey("delayed")},
		q.prefix, now.UnixMilli(), token, q.opts.LockDuration.Milliseconds(),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("jobqueue: claim: %w", err)
	}
	if len(reply) == 0 || len(reply)%2 == 0 {
		return nil, fmt.Errorf("jobqueue: claim: malformed reply of %d values", len(reply))
	}

	key := reply[0]
	fields := make(map[string]string, len(reply)/2)
	for i := 1; i+1 < len(reply); i += 2 {
		fields[reply[i]] = reply[i+1]
	}
	st, payload, err := decodeStatus(key, fields)
	if err != nil {
		return nil, err
	}
	return &Job{
		Key:          key,
		Payload:      payload,
		AttemptsMade: st.AttemptsMade,
		MaxAttempts:  st.MaxAttempts,
		CreatedAt:    st.CreatedAt,
		ProcessedAt:  now,
		token:        token,
	}, nil
}

// finish runs finishScript for key. It returns "" when the job was no longer
// ours to finish.
func (q *RedisQueue) finish(ctx context.Context, key, mode, token, reason string, retryAt time.Time) (State, error) {
	state, err := finishScript.Run(ctx, q.client,
		[]string{
			q.listKey("active"),
			q.listKey("wait"),
			q.listKey("delayed"),
			q.listKey("completed"),
			q.listKey("failed"),
		},
		q.prefix, key, mode, token, q.now().UnixMilli(), reason, retryAt.UnixMilli(),
		q.opts.MaxAttempts, q.opts.KeepCompleted, q.opts.KeepFailed,
	).Text()
	if err != nil {
		return "", fmt.Errorf("jobqueue: %s %s: %w", mode, key, err)
	}
	return State(state), nil
}

func (q *RedisQueue) Complete(ctx context.Context, job *Job) error {
	state, err := q.finish(ctx, job.Key, finishComplete, job.token, "", time.Time{})
	if err != nil {
		return err
	}
	if state == "" {
		return ErrLockLost
	}
	return nil
}

func (q *RedisQueue) Fail(ctx context.Context, job *Job, reason string) (State, error) {
	retryAt := q.now().Add(q.opts.Backoff(job.AttemptsMade + 1))
	state, err := q.finish(ctx, job.Key, finishFail, job.token, reason, retryAt)
	if err != nil {
		return "", err
	}
	if state == "" {
		return "", ErrLockLost
	}
	return state, nil
}

func (q *RedisQueue) Status(ctx context.Context, key string) (*Status, error) {
	fields, err := q.client.HGetAll(ctx, q.jobKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("jobqueue: status %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	st, _, err := decodeStatus(key, fields)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (q *RedisQueue) RecoverStalled(ctx context.Context) (int, error) {
	keys, err := q.client.LRange(ctx, q.listKey("active"), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("jobqueue: read active: %w", err)
	}

	recovered := 0
	for _, key := range keys {
		state, err := q.finish(ctx, key, finishStall, "", StalledReason, time.Time{})
		if err != nil {
			return recovered, err
		}
		if state == "" {
			// still locked, or finished since LRANGE
			continue
		}
		slog.Warn("jobqueue: recovered stalled job", "queue", q.opts.Name, "job_key", key, "state", state)
		recovered++
	}
	return recovered, nil
}

func (q *RedisQueue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, q.listKey("wait"))
	delayed := pipe.ZCard(ctx, q.listKey("delayed"))
	active := pipe.LLen(ctx, q.listKey("active"))
	completed := pipe.ZCard(ctx, q.listKey("completed"))
	failed := pipe.ZCard(ctx, q.listKey("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("jobqueue: counts: %w", err)
	}
	return Counts{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Close releases the Redis connection pool. It is safe to call while idle.
func (q *RedisQueue) Close() error {
	if err := q.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

func decodeStatus(key string, fields map[string]string) (*Status, Payload, error) {
	var payload Payload
	if raw := fields["payload"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, Payload{}, fmt.Errorf("jobqueue: decode %s: %w", key, err)
		}
	}
	st := &Status{
		Key:          key,
		State:        State(fields["state"]),
		AttemptsMade: atoi(fields["attemptsMade"]),
		MaxAttempts:  atoi(fields["maxAttempts"]),
		FailedReason: fields["failedReason"],
		CreatedAt:    msTime(fields["timestamp"]),
		ProcessedAt:  msTimePtr(fields["processedOn"]),
		FinishedAt:   msTimePtr(fields["finishedOn"]),
		RetryAt:      msTimePtr(fields["retryAt"]),
	}
	return st, payload, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func msTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func msTimePtr(s string) *time.Time {
	t := msTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}
