// Package runner drains the transcription queue within a fixed wall-clock
// budget, one job at a time.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"thirdcoast.systems/certify/internal/db"
	"thirdcoast.systems/certify/internal/jobqueue"
	"thirdcoast.systems/certify/internal/notify"
	"thirdcoast.systems/certify/internal/transcription"
)

// ErrBusy is returned when another Run is in progress in this process.
var ErrBusy = errors.New("runner: invocation already in progress")

type StopReason string

const (
	StopDrained  StopReason = "drained"
	StopDeadline StopReason = "deadline"
	StopCanceled StopReason = "canceled"
)

// Pipeline is implemented by *transcription.Pipeline.
type Pipeline interface {
	Run(ctx context.Context, payload jobqueue.Payload) (*transcription.Result, error)
}

type Summary struct {
	InvocationID     string        `json:"invocationId"`
	Processed        int           `json:"processed"`
	Succeeded        int           `json:"succeeded"`
	Failed           int           `json:"failed"`
	Reclaimed        int64         `json:"reclaimed"`
	Requeued         int           `json:"requeued"`
	StalledRecovered int           `json:"stalledRecovered"`
	StopReason       StopReason    `json:"stopReason"`
	Elapsed          time.Duration `json:"elapsed"`
}

type Options struct {
	StaleAfter   time.Duration
	RequeueLimit int32
	// FinalizeTimeout bounds the bookkeeping done for a job cut off by the
	// hard ceiling, on a context detached from it.
	FinalizeTimeout time.Duration
}

type Runner struct {
	queue     jobqueue.Queue
	media     db.MediaStore
	pipeline  Pipeline
	notifier  *notify.Notifier
	reclaimer *Reclaimer
	requeuer  *Requeuer
	opts      Options

	mu  sync.Mutex
	now func() time.Time
}

func New(queue jobqueue.Queue, media db.MediaStore, pipeline Pipeline, notifier *notify.Notifier, opts Options) *Runner {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.RequeueLimit <= 0 {
		opts.RequeueLimit = 25
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = 5 * time.Second
	}
	if notifier == nil {
		notifier = notify.NewNotifier(nil)
	}
	return &Runner{
		queue:     queue,
		media:     media,
		pipeline:  pipeline,
		notifier:  notifier,
		reclaimer: NewReclaimer(media),
		requeuer:  NewRequeuer(media, queue),
		opts:      opts,
		now:       time.Now,
	}
}

// Run reclaims stuck work, then claims and runs jobs until the queue is
// drained or maxDuration elapses. A job still running at maxDuration gets
// grace more to finish before its context is cancelled.
func (r *Runner) Run(ctx context.Context, maxDuration, grace time.Duration) (Summary, error) {
	if !r.mu.TryLock() {
		return Summary{}, ErrBusy
	}
	defer r.mu.Unlock()

	start := r.now()
	summary := Summary{InvocationID: uuid.NewString()}
	log := slog.With("invocation_id", summary.InvocationID)

	hardCtx, cancel := context.WithTimeout(ctx, maxDuration+grace)
	defer cancel()
	intakeUntil := start.Add(maxDuration)

	log.Info("transcription runner started", "max_duration", maxDuration, "grace", grace)

	if n, err := r.reclaimer.Reclaim(hardCtx, r.opts.StaleAfter); err != nil {
		log.Error("reclaim failed", "error", err)
	} else {
		summary.Reclaimed = n
	}
	if n, err := r.queue.RecoverStalled(hardCtx); err != nil {
		log.Error("stalled job recovery failed", "error", err)
	} else {
		summary.StalledRecovered = n
	}
	if n, err := r.requeuer.Requeue(hardCtx, r.opts.RequeueLimit); err != nil {
		log.Error("requeue of pending media failed", "error", err)
	} else {
		summary.Requeued = n
	}

	for {
		if ctx.Err() != nil {
			summary.StopReason = StopCanceled
			break
		}
		if !r.now().Before(intakeUntil) || hardCtx.Err() != nil {
			summary.StopReason = StopDeadline
			break
		}

		job, err := r.queue.Claim(hardCtx)
		if errors.Is(err, jobqueue.ErrNoJob) {
			summary.StopReason = StopDrained
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				summary.StopReason = StopCanceled
				break
			}
			log.Error("claim failed", "error", err)
			summary.Elapsed = r.now().Sub(start)
			return summary, fmt.Errorf("claim job: %w", err)
		}

		summary.Processed++
		if r.process(hardCtx, log, job) {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	summary.Elapsed = r.now().Sub(start)
	log.Info("transcription runner finished",
		"stop_reason", summary.StopReason,
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"reclaimed", summary.Reclaimed,
		"requeued", summary.Requeued,
		"elapsed", summary.Elapsed,
	)
	return summary, nil
}

// process runs one job and reports the outcome to both the media record and
// the queue. It returns true on success.
func (r *Runner) process(ctx context.Context, log *slog.Logger, job *jobqueue.Job) bool {
	mediaID := job.Payload.MediaID
	log = log.With("job_key", job.Key, "media_id", mediaID, "attempt", job.AttemptsMade+1)
	log.Info("transcription job claimed")

	// left active after a lost Complete and recovered as stalled
	if m, err := r.media.GetMedia(ctx, mediaID); err == nil && m.TranscriptionStatus == db.TranscriptionStatusCompleted {
		log.Warn("media already transcribed; closing job without rerunning")
		r.complete(ctx, log, job)
		return true
	}

	if err := r.media.MarkProcessing(ctx, mediaID); err != nil {
		if errors.Is(err, db.ErrMediaNotFound) {
			r.fail(ctx, log, job, &transcription.Error{Stage: transcription.StagePersist, Kind: transcription.KindInput, Message: "media record no longer exists"}, false)
			return false
		}
		r.fail(ctx, log, job, &transcription.Error{Stage: transcription.StagePersist, Kind: transcription.KindTransient, Message: "cannot mark media processing", Err: err}, true)
		return false
	}
	r.notifier.Notify(ctx, notify.Event{JobKey: job.Key, MediaID: mediaID, Status: notify.StatusProcessing, Attempt: job.AttemptsMade + 1})

	res, err := r.pipeline.Run(ctx, job.Payload)
	if err == nil {
		err = r.media.CompleteTranscription(ctx, db.CompleteTranscriptionParams{
			ID:              mediaID,
			Transcript:      res.Transcript,
			CaptionsURL:     res.CaptionsURL,
			CaptionLanguage: res.Language,
			Description:     res.Description,
		})
		if err != nil {
			err = &transcription.Error{Stage: transcription.StagePersist, Kind: transcription.KindTransient, Message: "cannot save transcription", Err: err}
		}
	}
	if err != nil {
		r.fail(ctx, log, job, transcription.AsError(err), true)
		return false
	}

	r.complete(ctx, log, job)
	r.notifier.Notify(ctx, notify.Event{
		JobKey:      job.Key,
		MediaID:     mediaID,
		Status:      notify.StatusCompleted,
		Attempt:     job.AttemptsMade + 1,
		CaptionsURL: res.CaptionsURL,
	})
	log.Info("transcription job completed", "captions_url", res.CaptionsURL)
	return true
}

// complete marks the queue entry done, retrying once on a detached context.
// An entry left active is requeued by RecoverStalled once its lock expires and
// runs again against media that is already completed.
func (r *Runner) complete(ctx context.Context, log *slog.Logger, job *jobqueue.Job) {
	err := r.queue.Complete(ctx, job)
	switch {
	case err == nil:
		return
	case errors.Is(err, jobqueue.ErrLockLost):
		log.Warn("job was reclaimed before completion", "error", err)
		return
	}
	log.Warn("retrying job completion", "error", err)

	retryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.FinalizeTimeout)
	defer cancel()
	if err := r.queue.Complete(retryCtx, job); err != nil {
		log.Error("failed to mark job completed", "error", err)
	}
}

// fail writes the failure to the media record (when it exists) and to the
// queue. A cut-off job is finalized on a short detached context.
func (r *Runner) fail(ctx context.Context, log *slog.Logger, job *jobqueue.Job, perr *transcription.Error, updateMedia bool) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), r.opts.FinalizeTimeout)
		defer cancel()
	}

	msg := perr.UserMessage()
	log.Warn("transcription job failed", "stage", perr.Stage, "kind", perr.Kind, "error", perr)

	if updateMedia {
		if err := r.media.FailTranscription(ctx, job.Payload.MediaID, msg); err != nil {
			log.Error("failed to record transcription failure", "error", err)
		}
	}

	state, err := r.queue.Fail(ctx, job, msg)
	if err != nil {
		log.Error("failed to report job failure to queue", "error", err)
	}

	status := notify.StatusFailed
	if state == jobqueue.StateDelayed || state == jobqueue.StateWaiting {
		status = notify.StatusRetrying
	}
	r.notifier.Notify(ctx, notify.Event{
		JobKey:  job.Key,
		MediaID: job.Payload.MediaID,
		Status:  status,
		Attempt: job.AttemptsMade + 1,
		Error:   msg,
	})
}
