package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"thirdcoast.systems/certify/internal/db"
	"thirdcoast.systems/certify/internal/jobqueue"
)

// DefaultStaleAfter must stay above the longest legitimate job.
const DefaultStaleAfter = 5 * time.Minute

// Reclaimer resets media left in processing by a runner that died without
// reporting back to the queue.
type Reclaimer struct {
	media db.MediaStore
	now   func() time.Time
}

func NewReclaimer(media db.MediaStore) *Reclaimer {
	return &Reclaimer{media: media, now: time.Now}
}

// Reclaim resets every record processing since before now-staleAfter to
// pending. It is idempotent.
func (r *Reclaimer) Reclaim(ctx context.Context, staleAfter time.Duration) (int64, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	n, err := r.media.ResetStaleProcessing(ctx, r.now().Add(-staleAfter))
	if err != nil {
		return 0, fmt.Errorf("reset stale transcriptions: %w", err)
	}
	if n > 0 {
		slog.Warn("reclaimed stuck transcriptions", "count", n, "stale_after", staleAfter)
	}
	return n, nil
}

// PayloadFor builds the job payload for a media record.
func PayloadFor(m *db.Media) jobqueue.Payload {
	return jobqueue.Payload{
		MediaID:                 m.ID,
		SourceLocator:           m.SourceKey,
		SourceName:              m.SourceName,
		WantsDerivedDescription: m.WantsDescription,
	}
}

// Requeuer enqueues media that are pending without a queued job, such as
// uploads whose enqueue failed or records the Reclaimer just reset.
type Requeuer struct {
	media db.MediaStore
	queue jobqueue.Queue
}

func NewRequeuer(media db.MediaStore, queue jobqueue.Queue) *Requeuer {
	return &Requeuer{media: media, queue: queue}
}

// Requeue returns how many new jobs were created; media that already have a
// live job are skipped by the queue's dedup.
func (r *Requeuer) Requeue(ctx context.Context, limit int32) (int, error) {
	pending, err := r.media.ListPendingTranscriptions(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending transcriptions: %w", err)
	}
	created := 0
	for _, m := range pending {
		res, err := r.queue.Enqueue(ctx, jobqueue.JobKey(m.ID), PayloadFor(m))
		if err != nil {
			return created, fmt.Errorf("requeue %s: %w", m.ID, err)
		}
		if !res.Duplicate {
			created++
		}
	}
	if created > 0 {
		slog.Info("requeued pending transcriptions", "count", created)
	}
	return created, nil
}
