package transcription

import (
	"context"
	"errors"
	"fmt"

	"thirdcoast.systems/certify/pkg/objectstore"
)

// Stage names the pipeline step a failure came from.
type Stage string

const (
	StageFetch      Stage = "fetch"
	StageTranscribe Stage = "transcribe"
	StageDescribe   Stage = "describe"
	StageCaptions   Stage = "captions"
	StagePersist    Stage = "persist"
)

// Kind classifies a failure for retry decisions and operator messages.
type Kind string

const (
	// KindInput failures repeat identically on retry (missing or oversized source).
	KindInput Kind = "input"
	// KindTransient failures come from unreachable or erroring backends.
	KindTransient Kind = "transient"
	// KindTimeout means the per-job ceiling elapsed.
	KindTimeout Kind = "timeout"
	// KindInterrupted means the caller's context ended first.
	KindInterrupted Kind = "interrupted"
)

// Error is the structured failure returned by Pipeline.Run.
type Error struct {
	Stage   Stage
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage is the text stored on the media record. It never includes
// the wrapped backend error for input failures.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindInput:
		return e.Message
	case KindTimeout:
		return "transcription timed out: " + e.Message
	case KindInterrupted:
		return "transcription interrupted: " + e.Message
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s failed: %s: %v", e.Stage, e.Message, e.Err)
		}
		return fmt.Sprintf("%s failed: %s", e.Stage, e.Message)
	}
}

func inputError(stage Stage, msg string, err error) *Error {
	return &Error{Stage: stage, Kind: KindInput, Message: msg, Err: err}
}

// classify wraps err from stage, deciding between timeout, interruption and
// transient failure by looking at which context ended.
func classify(parent, jobCtx context.Context, stage Stage, msg string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	kind := KindTransient
	switch {
	case parent.Err() != nil:
		kind = KindInterrupted
		msg = "runner shut down before the job finished"
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		kind = KindTimeout
		msg = "job exceeded its time limit during " + string(stage)
	case errors.Is(err, objectstore.ErrNotFound):
		kind = KindInput
	}
	return &Error{Stage: stage, Kind: kind, Message: msg, Err: err}
}

// AsError extracts the pipeline failure from err, wrapping foreign errors as
// transient.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Stage: StageTranscribe, Kind: KindTransient, Message: "unexpected failure", Err: err}
}
