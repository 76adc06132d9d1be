package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"thirdcoast.systems/certify/pkg/ffmpeg"
	"thirdcoast.systems/certify/pkg/speech"
	"thirdcoast.systems/certify/pkg/vtt"
)

// Source is the downloaded media handed to a strategy.
type Source struct {
	Path string
	Name string
	Size int64
}

// Transcription is what a strategy produces: the plain transcript and a
// WebVTT caption track.
type Transcription struct {
	Text     string
	Captions string
}

// Strategy turns a local media file into a transcript and captions.
type Strategy interface {
	Name() string
	// MaxSourceSize is the largest source accepted, 0 for no limit of its own.
	MaxSourceSize() int64
	Transcribe(ctx context.Context, ws *Workspace, src Source) (Transcription, error)
}

// DirectStrategy submits the source file itself to the speech API, once for
// plain text and once for captions.
type DirectStrategy struct {
	Transcriber speech.Transcriber
	// Limit is the speech API's upload cap.
	Limit int64
}

func (s *DirectStrategy) Name() string         { return "direct" }
func (s *DirectStrategy) MaxSourceSize() int64 { return s.Limit }

func (s *DirectStrategy) Transcribe(ctx context.Context, _ *Workspace, src Source) (Transcription, error) {
	audio := speech.Audio{Path: src.Path, Name: src.Name}

	text, err := s.Transcriber.Transcribe(ctx, audio, speech.FormatText)
	if err != nil {
		return Transcription{}, fmt.Errorf("text transcription: %w", err)
	}
	captions, err := s.Transcriber.Transcribe(ctx, audio, speech.FormatVTT)
	if err != nil {
		return Transcription{}, fmt.Errorf("caption transcription: %w", err)
	}
	return Transcription{Text: strings.TrimSpace(text), Captions: captions}, nil
}

// AudioTools extracts and measures audio. FFmpegTools is the real one.
type AudioTools interface {
	ExtractAudio(ctx context.Context, input, output string) error
	ExtractSegment(ctx context.Context, input, output string, start, length time.Duration) error
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// FFmpegTools implements AudioTools with the ffmpeg and ffprobe binaries.
type FFmpegTools struct{}

func (FFmpegTools) ExtractAudio(ctx context.Context, input, output string) error {
	return ffmpeg.ExtractAudio(ctx, input, output)
}

func (FFmpegTools) ExtractSegment(ctx context.Context, input, output string, start, length time.Duration) error {
	return ffmpeg.ExtractAudioSegment(ctx, input, output, start, length)
}

func (FFmpegTools) Duration(ctx context.Context, path string) (time.Duration, error) {
	secs, err := ffmpeg.ProbeDuration(ctx, path)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// AudioChunkStrategy extracts a speech-tuned audio track, splits it into
// chunks under ChunkLimit, transcribes each chunk to captions and merges the
// tracks back onto one timeline.
type AudioChunkStrategy struct {
	Transcriber speech.Transcriber
	Tools       AudioTools
	ChunkLimit  int64
}

func (s *AudioChunkStrategy) Name() string         { return "audio-chunks" }
func (s *AudioChunkStrategy) MaxSourceSize() int64 { return 0 }

type chunk struct {
	path   string
	offset time.Duration
}

func (s *AudioChunkStrategy) Transcribe(ctx context.Context, ws *Workspace, src Source) (Transcription, error) {
	audioPath := ws.Path("audio.mp3")
	if err := s.Tools.ExtractAudio(ctx, src.Path, audioPath); err != nil {
		return Transcription{}, fmt.Errorf("extract audio: %w", err)
	}

	chunks, err := s.split(ctx, ws, audioPath)
	if err != nil {
		return Transcription{}, err
	}

	tracks := make([]vtt.Track, 0, len(chunks))
	for i, c := range chunks {
		raw, err := s.Transcriber.Transcribe(ctx, speech.Audio{Path: c.path, Name: filepath.Base(c.path)}, speech.FormatVTT)
		if err != nil {
			return Transcription{}, fmt.Errorf("transcribe chunk %d/%d: %w", i+1, len(chunks), err)
		}
		cues, err := vtt.ParseString(raw)
		if err != nil && !errors.Is(err, vtt.ErrNoCues) {
			return Transcription{}, fmt.Errorf("parse chunk %d/%d captions: %w", i+1, len(chunks), err)
		}
		tracks = append(tracks, vtt.Track{Offset: c.offset, Cues: cues})
	}

	merged := vtt.Merge(tracks...)
	return Transcription{Text: vtt.PlainText(merged), Captions: vtt.Format(merged)}, nil
}

// split returns the audio as is when it fits, otherwise equal-length
// segments sized by the byte ratio.
func (s *AudioChunkStrategy) split(ctx context.Context, ws *Workspace, audioPath string) ([]chunk, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, fmt.Errorf("stat audio: %w", err)
	}
	if s.ChunkLimit <= 0 || info.Size() <= s.ChunkLimit {
		return []chunk{{path: audioPath}}, nil
	}

	total, err := s.Tools.Duration(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("probe audio duration: %w", err)
	}
	if total <= 0 {
		return nil, inputError(StageTranscribe, "source media has no audio", nil)
	}

	n := int(math.Ceil(float64(info.Size()) / float64(s.ChunkLimit)))
	length := (total + time.Duration(n) - 1) / time.Duration(n)
	slog.Debug("splitting audio", "bytes", info.Size(), "duration", total, "chunks", n, "chunk_length", length)

	chunks := make([]chunk, 0, n)
	for i := range n {
		start := time.Duration(i) * length
		out := ws.Path(fmt.Sprintf("chunk-%03d.mp3", i))
		if err := s.Tools.ExtractSegment(ctx, audioPath, out, start, length); err != nil {
			return nil, fmt.Errorf("extract chunk %d/%d: %w", i+1, n, err)
		}
		chunks = append(chunks, chunk{path: out, offset: start})
	}
	return chunks, nil
}
