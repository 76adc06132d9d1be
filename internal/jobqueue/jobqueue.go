// Package jobqueue is the durable, at-least-once work queue that decouples
// media upload from transcription.
//
// Jobs are keyed by media: enqueueing a key that is already waiting, delayed or
// active is a no-op. A claimed job is exclusive to its claimant until it is
// completed, failed, or its lock expires and RecoverStalled hands it back.
package jobqueue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoJob is returned by Claim when nothing is ready to run.
	ErrNoJob = errors.New("jobqueue: no job ready")
	// ErrNotFound is returned by Status for unknown or evicted keys.
	ErrNotFound = errors.New("jobqueue: job not found")
	// ErrLockLost is returned when a job is completed or failed by a claimant
	// that no longer owns it.
	ErrLockLost = errors.New("jobqueue: job lock lost")

	errClosed = errors.New("jobqueue: queue closed")
)

// JobKeyPrefix prefixes every transcription job key.
const JobKeyPrefix = "transcribe-"

// JobKey derives the dedup identity for a media item.
func JobKey(mediaID string) string {
	return JobKeyPrefix + mediaID
}

// Payload is the job data handed from the upload path to the pipeline.
type Payload struct {
	MediaID                 string `json:"mediaId"`
	SourceLocator           string `json:"sourceLocator"`
	SourceName              string `json:"sourceName"`
	WantsDerivedDescription bool   `json:"wantsDerivedDescription"`
}

// State is a job's position in its lifecycle.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the job is finished for good.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is a claimed unit of work.
type Job struct {
	Key          string
	Payload      Payload
	AttemptsMade int
	MaxAttempts  int
	CreatedAt    time.Time
	ProcessedAt  time.Time

	token string
}

// Status is the externally observable state of a job.
type Status struct {
	Key          string     `json:"key"`
	State        State      `json:"state"`
	AttemptsMade int        `json:"attemptsMade"`
	MaxAttempts  int        `json:"maxAttempts"`
	FailedReason string     `json:"failedReason,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	// RetryAt is set while a failed attempt waits out its backoff.
	RetryAt *time.Time `json:"retryAt,omitempty"`
}

// EnqueueResult reports what Enqueue did.
type EnqueueResult struct {
	Key       string
	State     State
	Duplicate bool
}

// Counts is a snapshot of queue sizes by state.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Queue is implemented by RedisQueue and MemoryQueue.
type Queue interface {
	Enqueue(ctx context.Context, key string, payload Payload) (EnqueueResult, error)
	// Claim returns the oldest ready job, or ErrNoJob.
	Claim(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, job *Job) error
	// Fail records a failed attempt and returns the state the job moved to:
	// StateDelayed while attempts remain, StateFailed once exhausted.
	Fail(ctx context.Context, job *Job, reason string) (State, error)
	Status(ctx context.Context, key string) (*Status, error)
	// RecoverStalled returns active jobs whose lock expired to the queue,
	// counting the lost run as a failed attempt.
	RecoverStalled(ctx context.Context) (int, error)
	Counts(ctx context.Context) (Counts, error)
	Close() error
}

// StalledReason is recorded on jobs recovered by RecoverStalled.
const StalledReason = "job stalled: worker lost its lock"

// Options tunes retry, retention and locking.
type Options struct {
	Name           string
	EnqueueTimeout time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	KeepCompleted  int
	KeepFailed     int
	LockDuration   time.Duration
	// Now is the clock used for backoff and timestamps.
	Now func() time.Time
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Name:           "transcription",
		EnqueueTimeout: 10 * time.Second,
		MaxAttempts:    3,
		BackoffBase:    5 * time.Second,
		KeepCompleted:  100,
		KeepFailed:     50,
		LockDuration:   5 * time.Minute,
		Now:            time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Name == "" {
		o.Name = d.Name
	}
	if o.EnqueueTimeout <= 0 {
		o.EnqueueTimeout = d.EnqueueTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.KeepCompleted <= 0 {
		o.KeepCompleted = d.KeepCompleted
	}
	if o.KeepFailed <= 0 {
		o.KeepFailed = d.KeepFailed
	}
	if o.LockDuration <= 0 {
		o.LockDuration = d.LockDuration
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// Backoff is the delay before the next attempt once attemptsMade attempts
// have failed: base, 2*base, 4*base, ...
func (o Options) Backoff(attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	return o.BackoffBase << (attemptsMade - 1)
}
