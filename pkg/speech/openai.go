package speech

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	DefaultTranscriptionModel = openai.Whisper1
	DefaultSummaryModel       = "gpt-4o-mini"
)

// OpenAIOptions configures the OpenAI-compatible client.
type OpenAIOptions struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	SummaryModel       string
	// Language is an ISO 639-1 code; empty lets the model detect it.
	Language string
}

// OpenAI implements Transcriber and Summarizer against an OpenAI-compatible API.
type OpenAI struct {
	client *openai.Client
	opts   OpenAIOptions
}

func NewOpenAI(opts OpenAIOptions) *OpenAI {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.TranscriptionModel == "" {
		opts.TranscriptionModel = DefaultTranscriptionModel
	}
	if opts.SummaryModel == "" {
		opts.SummaryModel = DefaultSummaryModel
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), opts: opts}
}

func (o *OpenAI) Transcribe(ctx context.Context, audio Audio, format Format) (string, error) {
	respFormat := openai.AudioResponseFormatText
	if format == FormatVTT {
		respFormat = openai.AudioResponseFormatVTT
	}

	name := audio.Name
	if name == "" {
		name = filepath.Base(audio.Path)
	}
	f, err := os.Open(audio.Path)
	if err != nil {
		return "", fmt.Errorf("speech: open %s: %w", audio.Path, err)
	}
	defer f.Close()

	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.opts.TranscriptionModel,
		FilePath: name,
		Reader:   f,
		Language: o.opts.Language,
		Format:   respFormat,
	})
	if err != nil {
		return "", fmt.Errorf("speech: transcription (%s): %w", format, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrEmptyResult
	}
	return text, nil
}

func (o *OpenAI) Summarize(ctx context.Context, text, title string, maxWords int) (string, error) {
	if maxWords <= 0 {
		maxWords = 150
	}
	system := fmt.Sprintf(
		"You write concise descriptions of training videos for a certification course catalog. "+
			"Answer with plain prose of at most %d words, no headings or lists.", maxWords)
	user := "Transcript:\n" + text
	if strings.TrimSpace(title) != "" {
		user = "Video: " + strings.TrimSpace(title) + "\n\n" + user
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.opts.SummaryModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("speech: summary: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResult
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyResult
	}
	return out, nil
}
