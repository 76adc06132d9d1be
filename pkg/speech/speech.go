// Package speech wraps the speech-to-text and summarization backends used by
// the transcription pipeline.
package speech

import (
	"context"
	"errors"
)

// Format selects the shape of a transcription result.
type Format string

const (
	FormatText Format = "text"
	FormatVTT  Format = "vtt"
)

// ErrEmptyResult is returned when a backend answers without any text.
var ErrEmptyResult = errors.New("speech: empty result")

// Audio is a local media file handed to a transcriber.
type Audio struct {
	Path string
	// Name is the file name reported to remote APIs; its extension tells them the container.
	Name string
}

// Transcriber converts speech in a media file into text or a caption track.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio, format Format) (string, error)
}

// Summarizer produces a short description of a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, text, title string, maxWords int) (string, error)
}
