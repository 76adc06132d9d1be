package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"thirdcoast.systems/certify/internal/db"
	"thirdcoast.systems/certify/internal/jobqueue"
)

var (
	// ErrNoSource is returned for media without an uploaded source file.
	ErrNoSource = errors.New("media has no source file")
	// ErrNotRetryable is returned when a retry targets media that is not
	// failed or pending.
	ErrNotRetryable = errors.New("transcription is not in a retryable state")
)

// EnqueueOutcome reports what happened to an enqueue request.
type EnqueueOutcome struct {
	MediaID   string         `json:"mediaId"`
	JobKey    string         `json:"jobKey"`
	State     jobqueue.State `json:"state,omitempty"`
	Duplicate bool           `json:"duplicate"`
	// Deferred is set when the queue could not be reached. The media stays
	// pending and the next runner invocation requeues it.
	Deferred bool `json:"deferred"`
}

// Status is the media-facing status implied by the outcome.
func (o EnqueueOutcome) Status() db.TranscriptionStatus {
	if o.State == jobqueue.StateActive {
		return db.TranscriptionStatusProcessing
	}
	return db.TranscriptionStatusPending
}

// Enqueuer is the upload path's entry point into the queue.
type Enqueuer struct {
	media db.MediaStore
	queue jobqueue.Queue
}

func NewEnqueuer(media db.MediaStore, queue jobqueue.Queue) *Enqueuer {
	return &Enqueuer{media: media, queue: queue}
}

// Add marks the media pending and queues its job. A job already waiting or
// running for the media is left alone.
func (e *Enqueuer) Add(ctx context.Context, mediaID string) (EnqueueOutcome, error) {
	m, err := e.media.GetMedia(ctx, mediaID)
	if err != nil {
		return EnqueueOutcome{}, err
	}
	return e.add(ctx, m)
}

// Retry re-queues a failed or pending transcription.
func (e *Enqueuer) Retry(ctx context.Context, mediaID string) (EnqueueOutcome, error) {
	m, err := e.media.GetMedia(ctx, mediaID)
	if err != nil {
		return EnqueueOutcome{}, err
	}
	switch m.TranscriptionStatus {
	case db.TranscriptionStatusFailed, db.TranscriptionStatusPending:
	default:
		return EnqueueOutcome{}, fmt.Errorf("%w: %s", ErrNotRetryable, m.TranscriptionStatus)
	}
	return e.add(ctx, m)
}

func (e *Enqueuer) add(ctx context.Context, m *db.Media) (EnqueueOutcome, error) {
	out := EnqueueOutcome{MediaID: m.ID, JobKey: jobqueue.JobKey(m.ID)}
	if m.SourceKey == "" {
		return out, ErrNoSource
	}

	// A live job means the media is already pending or processing; leave
	// its status alone.
	if st, err := e.queue.Status(ctx, out.JobKey); err == nil && !st.State.Terminal() {
		out.State = st.State
		out.Duplicate = true
		return out, nil
	}

	if m.TranscriptionStatus != db.TranscriptionStatusPending {
		if err := e.media.MarkPending(ctx, m.ID); err != nil {
			return out, fmt.Errorf("mark pending: %w", err)
		}
	}

	res, err := e.queue.Enqueue(ctx, out.JobKey, PayloadFor(m))
	if err != nil {
		slog.Warn("transcription enqueue failed; media left pending for requeue",
			"media_id", m.ID, "job_key", out.JobKey, "error", err)
		out.Deferred = true
		return out, nil
	}
	out.State = res.State
	out.Duplicate = res.Duplicate
	slog.Info("transcription job enqueued", "media_id", m.ID, "job_key", out.JobKey, "duplicate", res.Duplicate)
	return out, nil
}
