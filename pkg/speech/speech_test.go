package speech

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "en", r.FormValue("language"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		body, _ := io.ReadAll(file)
		assert.Equal(t, "lesson.mp4", header.Filename)
		assert.Equal(t, "fake media", string(body))

		w.Header().Set("Content-Type", "text/plain")
		switch r.FormValue("response_format") {
		case "vtt":
			_, _ = io.WriteString(w, "WEBVTT\n\n00:00:00.000 --> 00:00:01.000\nhello\n")
		case "text":
			_, _ = io.WriteString(w, "hello\n")
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req["model"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "  A short intro to subnetting.  "},
			}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeMedia(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(p, []byte("fake media"), 0o644))
	return p
}

func TestOpenAI_Transcribe(t *testing.T) {
	srv := newFakeOpenAI(t)
	client := NewOpenAI(OpenAIOptions{APIKey: "test", BaseURL: srv.URL + "/v1/", Language: "en"})
	audio := Audio{Path: writeMedia(t), Name: "lesson.mp4"}

	text, err := client.Transcribe(context.Background(), audio, FormatText)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	captions, err := client.Transcribe(context.Background(), audio, FormatVTT)
	require.NoError(t, err)
	assert.Contains(t, captions, "WEBVTT")
	assert.Contains(t, captions, "00:00:00.000 --> 00:00:01.000")
}

func TestOpenAI_TranscribeMissingFile(t *testing.T) {
	client := NewOpenAI(OpenAIOptions{APIKey: "test", BaseURL: "http://127.0.0.1:1/v1"})
	_, err := client.Transcribe(context.Background(), Audio{Path: filepath.Join(t.TempDir(), "nope.mp4")}, FormatText)
	require.Error(t, err)
}

func TestOpenAI_Summarize(t *testing.T) {
	srv := newFakeOpenAI(t)
	client := NewOpenAI(OpenAIOptions{APIKey: "test", BaseURL: srv.URL + "/v1"})

	out, err := client.Summarize(context.Background(), "hello", "Subnetting 101", 50)
	require.NoError(t, err)
	assert.Equal(t, "A short intro to subnetting.", out)
}

func TestWhisper_Args(t *testing.T) {
	w := NewWhisper(WhisperOptions{Language: "de", ExtraArgs: []string{"--fp16", "False"}})
	assert.Equal(t, []string{
		"in.wav",
		"--model", "small",
		"--output_format", "vtt",
		"--output_dir", "/tmp/out",
		"--device", "cpu",
		"--task", "transcribe",
		"--language", "de",
		"--fp16", "False",
	}, w.args("in.wav", "vtt", "/tmp/out"))
}

// fakeWhisper writes a shell script that mimics whisper's output layout.
func fakeWhisper(t *testing.T) string {
	t.Helper()
	script := `#!/bin/sh
in="$1"; shift
fmt=""; dir=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output_format) fmt="$2"; shift ;;
    --output_dir) dir="$2"; shift ;;
  esac
  shift
done
base=$(basename "$in"); base="${base%.*}"
if [ "$fmt" = "vtt" ]; then
  printf 'WEBVTT\n\n00:00.000 --> 00:01.000\nfrom whisper\n' > "$dir/$base.vtt"
else
  printf 'from whisper\n' > "$dir/$base.txt"
fi
`
	p := filepath.Join(t.TempDir(), "whisper")
	require.NoError(t, os.WriteFile(p, []byte(script), 0o755))
	return p
}

func TestWhisper_Transcribe(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	w := NewWhisper(WhisperOptions{Command: fakeWhisper(t)})
	require.True(t, w.Available())

	audio := Audio{Path: writeMedia(t)}
	text, err := w.Transcribe(context.Background(), audio, FormatText)
	require.NoError(t, err)
	assert.Equal(t, "from whisper", text)

	vtt, err := w.Transcribe(context.Background(), audio, FormatVTT)
	require.NoError(t, err)
	assert.Contains(t, vtt, "WEBVTT")
}

func TestWhisper_MissingBinary(t *testing.T) {
	w := NewWhisper(WhisperOptions{Command: "definitely-not-whisper-xyz"})
	assert.False(t, w.Available())
	_, err := w.Transcribe(context.Background(), Audio{Path: "x.wav"}, FormatText)
	require.Error(t, err)
}
