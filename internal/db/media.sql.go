package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const mediaColumns = `id, title, source_key, source_name, transcription_status, transcript,
	captions_url, caption_language, transcription_error, description, is_processed,
	wants_description, created_at, updated_at`

func scanMedia(row pgx.Row) (*Media, error) {
	var m Media
	err := row.Scan(
		&m.ID,
		&m.Title,
		&m.SourceKey,
		&m.SourceName,
		&m.TranscriptionStatus,
		&m.Transcript,
		&m.CaptionsURL,
		&m.CaptionLanguage,
		&m.TranscriptionError,
		&m.Description,
		&m.IsProcessed,
		&m.WantsDescription,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMediaNotFound
	}
	return &m, err
}

func expectOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMediaNotFound
	}
	return nil
}

const createMedia = `-- name: CreateMedia :one
INSERT INTO media (id, title, source_key, source_name, wants_description)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + mediaColumns

func (q *Queries) CreateMedia(ctx context.Context, arg CreateMediaParams) (*Media, error) {
	row := q.db.QueryRow(ctx, createMedia,
		arg.ID,
		arg.Title,
		arg.SourceKey,
		arg.SourceName,
		arg.WantsDescription,
	)
	m, err := scanMedia(row)
	if IsUniqueViolation(err) {
		return nil, ErrMediaExists
	}
	return m, err
}

const getMedia = `-- name: GetMedia :one
SELECT ` + mediaColumns + `
FROM media
WHERE id = $1`

func (q *Queries) GetMedia(ctx context.Context, id string) (*Media, error) {
	return scanMedia(q.db.QueryRow(ctx, getMedia, id))
}

const markPending = `-- name: MarkPending :exec
UPDATE media
SET transcription_status = 'pending',
    transcription_error = NULL,
    is_processed = FALSE,
    updated_at = now()
WHERE id = $1`

func (q *Queries) MarkPending(ctx context.Context, id string) error {
	return expectOne(q.db.Exec(ctx, markPending, id))
}

const markProcessing = `-- name: MarkProcessing :exec
UPDATE media
SET transcription_status = 'processing',
    transcription_error = NULL,
    updated_at = now()
WHERE id = $1`

func (q *Queries) MarkProcessing(ctx context.Context, id string) error {
	return expectOne(q.db.Exec(ctx, markProcessing, id))
}

const saveTranscriptDraft = `-- name: SaveTranscriptDraft :exec
UPDATE media
SET transcript = $2,
    updated_at = now()
WHERE id = $1`

func (q *Queries) SaveTranscriptDraft(ctx context.Context, id, transcript string) error {
	return expectOne(q.db.Exec(ctx, saveTranscriptDraft, id, transcript))
}

const completeTranscription = `-- name: CompleteTranscription :exec
UPDATE media
SET transcript = $2,
    captions_url = $3,
    caption_language = $4,
    description = COALESCE($5, description),
    transcription_status = 'completed',
    transcription_error = NULL,
    is_processed = TRUE,
    updated_at = now()
WHERE id = $1`

func (q *Queries) CompleteTranscription(ctx context.Context, arg CompleteTranscriptionParams) error {
	return expectOne(q.db.Exec(ctx, completeTranscription,
		arg.ID,
		arg.Transcript,
		arg.CaptionsURL,
		arg.CaptionLanguage,
		arg.Description,
	))
}

const failTranscription = `-- name: FailTranscription :exec
UPDATE media
SET transcription_status = 'failed',
    transcription_error = $2,
    is_processed = TRUE,
    updated_at = now()
WHERE id = $1`

func (q *Queries) FailTranscription(ctx context.Context, id, message string) error {
	return expectOne(q.db.Exec(ctx, failTranscription, id, message))
}

const resetStaleProcessing = `-- name: ResetStaleProcessing :execrows
UPDATE media
SET transcription_status = 'pending',
    transcription_error = NULL,
    is_processed = FALSE,
    updated_at = now()
WHERE transcription_status = 'processing'
  AND updated_at < $1`

// ResetStaleProcessing returns rows stuck in processing since before cutoff
// to pending.
func (q *Queries) ResetStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, resetStaleProcessing, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listPendingTranscriptions = `-- name: ListPendingTranscriptions :many
SELECT ` + mediaColumns + `
FROM media
WHERE transcription_status = 'pending'
  AND source_key <> ''
ORDER BY updated_at ASC
LIMIT $1`

func (q *Queries) ListPendingTranscriptions(ctx context.Context, limit int32) ([]*Media, error) {
	rows, err := q.db.Query(ctx, listPendingTranscriptions, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
