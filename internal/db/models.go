package db

import (
	"context"
	"errors"
	"time"

	"thirdcoast.systems/certify/pkg/utils/language"
)

// ErrMediaNotFound is returned when no media row matches the id.
var ErrMediaNotFound = errors.New("media not found")

// ErrMediaExists is returned when creating a media id that is taken.
var ErrMediaExists = errors.New("media already exists")

type TranscriptionStatus string

const (
	TranscriptionStatusPending    TranscriptionStatus = "pending"
	TranscriptionStatusProcessing TranscriptionStatus = "processing"
	TranscriptionStatusCompleted  TranscriptionStatus = "completed"
	TranscriptionStatusFailed     TranscriptionStatus = "failed"
)

// Media is the slice of a content item the transcription pipeline reads and
// writes. Everything else about media belongs to the content layer.
type Media struct {
	ID                  string              `json:"id"`
	Title               string              `json:"title"`
	SourceKey           string              `json:"sourceKey"`
	SourceName          string              `json:"sourceName"`
	TranscriptionStatus TranscriptionStatus `json:"transcriptionStatus"`
	Transcript          *string             `json:"transcript,omitempty"`
	CaptionsURL         *string             `json:"captionsUrl,omitempty"`
	CaptionLanguage     language.Tag        `json:"captionLanguage"`
	TranscriptionError  *string             `json:"transcriptionError,omitempty"`
	Description         *string             `json:"description,omitempty"`
	IsProcessed         bool                `json:"isProcessed"`
	WantsDescription    bool                `json:"wantsDescription"`
	CreatedAt           time.Time           `json:"createdAt"`
	UpdatedAt           time.Time           `json:"updatedAt"`
}

type CreateMediaParams struct {
	ID               string
	Title            string
	SourceKey        string
	SourceName       string
	WantsDescription bool
}

type CompleteTranscriptionParams struct {
	ID              string
	Transcript      string
	CaptionsURL     string
	CaptionLanguage language.Tag
	// Description is left untouched when nil.
	Description *string
}

// MediaStore is the persistence the transcription runner needs. *Queries and
// *MemoryStore implement it.
type MediaStore interface {
	CreateMedia(ctx context.Context, arg CreateMediaParams) (*Media, error)
	GetMedia(ctx context.Context, id string) (*Media, error)
	MarkPending(ctx context.Context, id string) error
	MarkProcessing(ctx context.Context, id string) error
	SaveTranscriptDraft(ctx context.Context, id, transcript string) error
	CompleteTranscription(ctx context.Context, arg CompleteTranscriptionParams) error
	FailTranscription(ctx context.Context, id, message string) error
	ResetStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error)
	ListPendingTranscriptions(ctx context.Context, limit int32) ([]*Media, error)
}

var (
	_ MediaStore = (*Queries)(nil)
	_ MediaStore = (*MemoryStore)(nil)
)
