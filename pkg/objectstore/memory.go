package objectstore

import (
	"bytes"
	"context"
	"io"
	"sync"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// Memory is an in-process Store used by tests and local runs.
type Memory struct {
	mu         sync.RWMutex
	objects    map[string]memoryObject
	publicBase string
}

// NewMemory returns an empty store whose public URLs live under publicBase.
func NewMemory(publicBase string) *Memory {
	if publicBase == "" {
		publicBase = "memory://bucket"
	}
	return &Memory{objects: map[string]memoryObject{}, publicBase: publicBase}
}

func (m *Memory) Stat(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, ErrNotFound
	}
	return ObjectInfo{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType}, nil
}

func (m *Memory) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *Memory) Upload(_ context.Context, key string, data []byte, contentType string) (Object, error) {
	if contentType == "" {
		contentType = ContentTypeForKey(key)
	}
	m.mu.Lock()
	m.objects[key] = memoryObject{data: bytes.Clone(data), contentType: contentType}
	m.mu.Unlock()
	return Object{Key: key, PublicURL: m.PublicURL(key)}, nil
}

func (m *Memory) PublicURL(key string) string {
	return joinPublicURL(m.publicBase, key)
}

// Get returns a copy of the stored bytes.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	return bytes.Clone(obj.data), true
}
