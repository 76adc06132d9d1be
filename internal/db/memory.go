package db

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-process MediaStore for tests and local runs.
type MemoryStore struct {
	mu    sync.Mutex
	media map[string]*Media
	// Now stamps updated_at; defaults to time.Now.
	Now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{media: map[string]*Media{}, Now: time.Now}
}

func (s *MemoryStore) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// CreateMedia inserts a pending row.
func (s *MemoryStore) CreateMedia(_ context.Context, arg CreateMediaParams) (*Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.media[arg.ID]; ok {
		return nil, ErrMediaExists
	}
	now := s.now()
	m := &Media{
		ID:                  arg.ID,
		Title:               arg.Title,
		SourceKey:           arg.SourceKey,
		SourceName:          arg.SourceName,
		TranscriptionStatus: TranscriptionStatusPending,
		WantsDescription:    arg.WantsDescription,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	s.media[m.ID] = m
	return clone(m), nil
}

// Put stores a copy of m as is, including its timestamps.
func (s *MemoryStore) Put(m *Media) {
	s.mu.Lock()
	s.media[m.ID] = clone(m)
	s.mu.Unlock()
}

func (s *MemoryStore) GetMedia(_ context.Context, id string) (*Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.media[id]
	if !ok {
		return nil, ErrMediaNotFound
	}
	return clone(m), nil
}

func (s *MemoryStore) update(id string, fn func(m *Media)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.media[id]
	if !ok {
		return ErrMediaNotFound
	}
	fn(m)
	m.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) MarkPending(_ context.Context, id string) error {
	return s.update(id, func(m *Media) {
		m.TranscriptionStatus = TranscriptionStatusPending
		m.TranscriptionError = nil
		m.IsProcessed = false
	})
}

func (s *MemoryStore) MarkProcessing(_ context.Context, id string) error {
	return s.update(id, func(m *Media) {
		m.TranscriptionStatus = TranscriptionStatusProcessing
		m.TranscriptionError = nil
	})
}

func (s *MemoryStore) SaveTranscriptDraft(_ context.Context, id, transcript string) error {
	return s.update(id, func(m *Media) {
		m.Transcript = &transcript
	})
}

func (s *MemoryStore) CompleteTranscription(_ context.Context, arg CompleteTranscriptionParams) error {
	return s.update(arg.ID, func(m *Media) {
		transcript, captions := arg.Transcript, arg.CaptionsURL
		m.Transcript = &transcript
		m.CaptionsURL = &captions
		m.CaptionLanguage = arg.CaptionLanguage
		if arg.Description != nil {
			d := *arg.Description
			m.Description = &d
		}
		m.TranscriptionStatus = TranscriptionStatusCompleted
		m.TranscriptionError = nil
		m.IsProcessed = true
	})
}

func (s *MemoryStore) FailTranscription(_ context.Context, id, message string) error {
	return s.update(id, func(m *Media) {
		m.TranscriptionStatus = TranscriptionStatusFailed
		m.TranscriptionError = &message
		m.IsProcessed = true
	})
}

func (s *MemoryStore) ResetStaleProcessing(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var n int64
	for _, m := range s.media {
		if m.TranscriptionStatus != TranscriptionStatusProcessing || !m.UpdatedAt.Before(cutoff) {
			continue
		}
		m.TranscriptionStatus = TranscriptionStatusPending
		m.TranscriptionError = nil
		m.IsProcessed = false
		m.UpdatedAt = now
		n++
	}
	return n, nil
}

func (s *MemoryStore) ListPendingTranscriptions(_ context.Context, limit int32) ([]*Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []*Media
	for _, m := range s.media {
		if m.TranscriptionStatus == TranscriptionStatusPending && m.SourceKey != "" {
			items = append(items, clone(m))
		}
	}
	slices.SortFunc(items, func(a, b *Media) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	if limit > 0 && len(items) > int(limit) {
		items = items[:limit]
	}
	return items, nil
}

func clone(m *Media) *Media {
	c := *m
	c.Transcript = clonePtr(m.Transcript)
	c.CaptionsURL = clonePtr(m.CaptionsURL)
	c.TranscriptionError = clonePtr(m.TranscriptionError)
	c.Description = clonePtr(m.Description)
	return &c
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
