// Package objectstore stores source media and generated caption tracks in an
// S3-compatible bucket.
package objectstore

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when the requested key does not exist.
var ErrNotFound = errors.New("objectstore: object not found")

// ObjectInfo describes a stored object without reading it.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// Object is the result of an upload.
type Object struct {
	Key       string
	PublicURL string
}

// Store is the subset of bucket operations the transcription pipeline needs.
type Store interface {
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Upload(ctx context.Context, key string, data []byte, contentType string) (Object, error)
	PublicURL(key string) string
}

// KeyFromLocator turns whatever the upload path stored (a bare key, a path or
// a public URL under publicBase) into an object key.
func KeyFromLocator(publicBase, locator string) string {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return ""
	}
	if base := strings.TrimRight(strings.TrimSpace(publicBase), "/"); base != "" && strings.HasPrefix(locator, base+"/") {
		return unescapeKey(strings.TrimPrefix(locator, base+"/"))
	}
	if u, err := url.Parse(locator); err == nil && u.Scheme != "" && u.Host != "" {
		return unescapeKey(strings.TrimPrefix(u.Path, "/"))
	}
	return strings.TrimPrefix(locator, "/")
}

func unescapeKey(k string) string {
	if v, err := url.PathUnescape(k); err == nil {
		return v
	}
	return k
}

// joinPublicURL appends an escaped key to base.
func joinPublicURL(base, key string) string {
	segments := strings.Split(strings.TrimPrefix(key, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + path.Join(segments...)
}

// ContentTypeForKey guesses a content type from the key's extension.
func ContentTypeForKey(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".vtt":
		return "text/vtt"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}
