// Package transcription runs one job's stages: fetch the source media,
// transcribe it, optionally summarize it, and publish the caption track.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"thirdcoast.systems/certify/internal/jobqueue"
	"thirdcoast.systems/certify/pkg/objectstore"
	"thirdcoast.systems/certify/pkg/speech"
	"thirdcoast.systems/certify/pkg/utils/filename"
	"thirdcoast.systems/certify/pkg/utils/language"
	"thirdcoast.systems/certify/pkg/vtt"
)

// DraftSaver persists a transcript before the rest of the job finishes.
type DraftSaver interface {
	SaveTranscriptDraft(ctx context.Context, id, transcript string) error
}

// Result is a successful run. Description is nil when it was not requested
// or could not be produced.
type Result struct {
	Transcript  string
	Captions    string
	CaptionKey  string
	CaptionsURL string
	Language    language.Tag
	Description *string
}

type Options struct {
	// Timeout bounds a whole run.
	Timeout time.Duration
	// SourceSizeLimit caps downloads regardless of strategy.
	SourceSizeLimit     int64
	DescriptionMaxWords int
	Language            language.Tag
	TempDir             string
	// PublicBaseURL lets locators given as public URLs resolve to keys.
	PublicBaseURL string
}

type Pipeline struct {
	store      objectstore.Store
	strategy   Strategy
	summarizer speech.Summarizer
	drafts     DraftSaver
	opts       Options
}

// NewPipeline wires the stages. summarizer and drafts may be nil.
func NewPipeline(store objectstore.Store, strategy Strategy, summarizer speech.Summarizer, drafts DraftSaver, opts Options) *Pipeline {
	if opts.Timeout <= 0 {
		opts.Timeout = 3*time.Minute + 30*time.Second
	}
	if opts.DescriptionMaxWords <= 0 {
		opts.DescriptionMaxWords = 150
	}
	return &Pipeline{
		store:      store,
		strategy:   strategy,
		summarizer: summarizer,
		drafts:     drafts,
		opts:       opts,
	}
}

// CaptionKey is the stable object key of a media item's caption track.
func CaptionKey(mediaID string, lang language.Tag) string {
	return "captions/" + mediaID + "." + lang.Suffix() + ".vtt"
}

// Run executes every stage for one job. Errors are always *Error.
func (p *Pipeline) Run(ctx context.Context, payload jobqueue.Payload) (*Result, error) {
	jobCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	log := slog.With("media_id", payload.MediaID, "strategy", p.strategy.Name())
	start := time.Now()

	ws, err := NewWorkspace(p.opts.TempDir)
	if err != nil {
		return nil, &Error{Stage: StageFetch, Kind: KindTransient, Message: "cannot create workspace", Err: err}
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			log.Warn("temporary artifact cleanup failed", "dir", ws.Dir(), "error", err)
		}
	}()

	src, err := p.fetch(jobCtx, ws, payload)
	if err != nil {
		return nil, classify(ctx, jobCtx, StageFetch, "cannot fetch source media", err)
	}
	log.Info("source media fetched", "bytes", src.Size)

	tr, err := p.strategy.Transcribe(jobCtx, ws, src)
	if err != nil {
		return nil, classify(ctx, jobCtx, StageTranscribe, "speech-to-text failed", err)
	}
	if strings.TrimSpace(tr.Text) == "" {
		return nil, inputError(StageTranscribe, "no speech was detected in the source media", nil)
	}
	if err := vtt.Validate(tr.Captions); err != nil {
		return nil, classify(ctx, jobCtx, StageTranscribe, "speech-to-text returned an invalid caption track", err)
	}
	log.Info("transcription produced", "chars", len(tr.Text), "elapsed", time.Since(start))

	if p.drafts != nil {
		if err := p.drafts.SaveTranscriptDraft(jobCtx, payload.MediaID, tr.Text); err != nil {
			log.Warn("failed to save transcript draft", "error", err)
		}
	}

	res := &Result{
		Transcript: tr.Text,
		Captions:   tr.Captions,
		Language:   p.opts.Language,
	}

	if payload.WantsDerivedDescription {
		res.Description = p.describe(jobCtx, log, tr.Text, filename.Title(payload.SourceName))
	}

	res.CaptionKey = CaptionKey(payload.MediaID, res.Language)
	obj, err := p.store.Upload(jobCtx, res.CaptionKey, []byte(tr.Captions), vtt.ContentType)
	if err != nil {
		return nil, classify(ctx, jobCtx, StageCaptions, "cannot upload captions", err)
	}
	res.CaptionsURL = obj.PublicURL

	log.Info("transcription pipeline finished", "captions_url", res.CaptionsURL, "described", res.Description != nil, "elapsed", time.Since(start))
	return res, nil
}

func (p *Pipeline) sizeLimit() int64 {
	limit := p.strategy.MaxSourceSize()
	if p.opts.SourceSizeLimit > 0 && (limit <= 0 || p.opts.SourceSizeLimit < limit) {
		limit = p.opts.SourceSizeLimit
	}
	return limit
}

// fetch checks the source size before downloading so oversized media fails
// without touching the speech API.
func (p *Pipeline) fetch(ctx context.Context, ws *Workspace, payload jobqueue.Payload) (Source, error) {
	key := objectstore.KeyFromLocator(p.opts.PublicBaseURL, payload.SourceLocator)
	if key == "" {
		return Source{}, inputError(StageFetch, "media has no source file", nil)
	}

	info, err := p.store.Stat(ctx, key)
	if errors.Is(err, objectstore.ErrNotFound) {
		return Source{}, inputError(StageFetch, fmt.Sprintf("source media %q was not found", key), err)
	}
	if err != nil {
		return Source{}, err
	}

	limit := p.sizeLimit()
	if limit > 0 && info.Size > limit {
		return Source{}, tooLarge(info.Size, limit)
	}

	name := filename.Sanitize(payload.SourceName, 0)
	if name == "" {
		name = filename.Sanitize(key, 0)
	}
	if name == "" {
		name = "source"
	}
	local := ws.Path("source" + filepath.Ext(name))

	r, err := p.store.Open(ctx, key)
	if err != nil {
		return Source{}, err
	}
	defer r.Close()

	f, err := os.Create(local)
	if err != nil {
		return Source{}, err
	}
	var reader io.Reader = r
	if limit > 0 {
		reader = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(f, reader)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Source{}, fmt.Errorf("download %s: %w", key, err)
	}
	if limit > 0 && n > limit {
		return Source{}, tooLarge(n, limit)
	}
	return Source{Path: local, Name: name, Size: n}, nil
}

func tooLarge(size, limit int64) *Error {
	return inputError(StageFetch, fmt.Sprintf(
		"source media is %s, over the %s size limit",
		humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limit)),
	), nil)
}

// describe is best effort; failures are logged and yield nil.
func (p *Pipeline) describe(ctx context.Context, log *slog.Logger, transcript, title string) *string {
	if p.summarizer == nil {
		log.Warn("description requested but no summarizer is configured")
		return nil
	}
	desc, err := p.summarizer.Summarize(ctx, transcript, title, p.opts.DescriptionMaxWords)
	if err != nil {
		log.Warn("description generation failed", "stage", StageDescribe, "error", err)
		return nil
	}
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return nil
	}
	return &desc
}
