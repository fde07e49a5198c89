package run

import (
	"context"
	"sort"
	"sync"
)

// Store persists run sessions and their tracks. Append and Finish must apply
// all of their writes or none of them.
//
// Both are conditional on the stored session: Append requires it to be active
// with exactly one sample fewer than session, Finish requires it to be active
// with the same sample count. Otherwise they return ErrConflict.
type Store interface {
	Create(ctx context.Context, session Session) error
	Get(ctx context.Context, id string) (Session, error)
	Append(ctx context.Context, session Session, sample GeoSample) error
	Finish(ctx context.Context, session Session) error
	History(ctx context.Context, userID string, limit int) ([]Session, error)
	Positions(ctx context.Context, id string) ([]GeoSample, error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	tracks   map[string][]GeoSample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]Session{},
		tracks:   map[string][]GeoSample{},
	}
}

func (m *MemoryStore) Create(_ context.Context, session Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	m.tracks[session.ID] = nil
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return session, nil
}

func (m *MemoryStore) Append(_ context.Context, session Session, sample GeoSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[session.ID]
	if !ok {
		return ErrNotFound
	}
	if !canAppend(stored, session) {
		return ErrConflict
	}
	m.tracks[session.ID] = append(m.tracks[session.ID], sample)
	m.sessions[session.ID] = session
	return nil
}

func (m *MemoryStore) Finish(_ context.Context, session Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[session.ID]
	if !ok {
		return ErrNotFound
	}
	if !canFinish(stored, session) {
		return ErrConflict
	}
	m.sessions[session.ID] = session
	return nil
}

func (m *MemoryStore) History(_ context.Context, userID string, limit int) ([]Session, error) {
	m.mu.RLock()
	var finished []Session
	for _, session := range m.sessions {
		if session.UserID == userID && !session.Active {
			finished = append(finished, session)
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(finished)
	if limit > 0 && len(finished) > limit {
		finished = finished[:limit]
	}
	return finished, nil
}

func (m *MemoryStore) Positions(_ context.Context, id string) ([]GeoSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	track, ok := m.tracks[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]GeoSample, len(track))
	copy(out, track)
	return out, nil
}

func canAppend(stored, next Session) bool {
	return stored.Active && stored.SampleCount == next.SampleCount-1
}

func canFinish(stored, next Session) bool {
	return stored.Active && stored.SampleCount == next.SampleCount
}

func sortNewestFirst(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].finishedAt().After(sessions[j].finishedAt())
	})
}
