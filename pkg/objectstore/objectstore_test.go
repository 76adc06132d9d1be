package objectstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFromLocator(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		locator string
		want    string
	}{
		{name: "bare key", locator: "media/v1/intro.mp4", want: "media/v1/intro.mp4"},
		{name: "leading slash", locator: "/media/v1/intro.mp4", want: "media/v1/intro.mp4"},
		{name: "public base", base: "https://cdn.example.com/lms", locator: "https://cdn.example.com/lms/media/v1/my%20talk.mp4", want: "media/v1/my talk.mp4"},
		{name: "foreign url", base: "https://cdn.example.com/lms", locator: "https://other.example.com/media/a.mp4", want: "media/a.mp4"},
		{name: "blank", locator: "  ", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyFromLocator(tt.base, tt.locator))
		})
	}
}

func TestMemory_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemory("https://cdn.example.com/lms")

	_, err := store.Stat(ctx, "captions/v1.en.vtt")
	require.ErrorIs(t, err, ErrNotFound)

	obj, err := store.Upload(ctx, "captions/v1.en.vtt", []byte("WEBVTT\n"), "")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/lms/captions/v1.en.vtt", obj.PublicURL)

	info, err := store.Stat(ctx, KeyFromLocator("https://cdn.example.com/lms", obj.PublicURL))
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.Size)
	assert.Equal(t, "text/vtt", info.ContentType)

	rc, err := store.Open(ctx, obj.Key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "WEBVTT\n", string(data))
}

func TestPublicURLs(t *testing.T) {
	m, err := NewMinio(MinioOptions{Endpoint: "http://localhost:9000", Bucket: "lms"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/lms/captions/a%20b.vtt", m.PublicURL("captions/a b.vtt"))

	_, err = NewMinio(MinioOptions{Endpoint: "localhost:9000"})
	require.Error(t, err)

	s, err := NewS3(context.Background(), S3Options{
		Endpoint:  "http://localhost:9000",
		Region:    "us-east-1",
		Bucket:    "lms",
		AccessKey: "key",
		SecretKey: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/lms/captions/v1.vtt", s.PublicURL("captions/v1.vtt"))
}

func TestContentTypeForKey(t *testing.T) {
	assert.Equal(t, "text/vtt", ContentTypeForKey("x.VTT"))
	assert.Equal(t, "video/mp4", ContentTypeForKey("a/b.mp4"))
	assert.Equal(t, "application/octet-stream", ContentTypeForKey("noext"))
}
