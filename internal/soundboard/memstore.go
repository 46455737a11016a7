package soundboard

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store]. The zero value is ready to use.
type MemStore struct {
	mu     sync.RWMutex
	sounds map[string]Sound
	seq    int64
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore { return &MemStore{} }

func (m *MemStore) Lookup(_ context.Context, session, id string) (*Sound, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sounds[id]
	if !ok || s.Session != session {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemStore) Get(_ context.Context, id string) (*Sound, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sounds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemStore) List(_ context.Context, session string) ([]Sound, error) {
	m.mu.RLock()
	var out []Sound
	for _, s := range m.sounds {
		if s.Session == session {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(out, compareCreated)
	return out, nil
}

func (m *MemStore) Add(_ context.Context, s *Sound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sounds == nil {
		m.sounds = make(map[string]Sound)
	}
	m.seq++
	s.Seq = m.seq
	m.sounds[s.ID] = *s
	return nil
}

func (m *MemStore) Update(_ context.Context, s *Sound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.sounds[s.ID]
	if !ok {
		return ErrNotFound
	}
	s.Seq = old.Seq
	m.sounds[s.ID] = *s
	return nil
}

func (m *MemStore) Delete(_ context.Context, session, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sounds[id]
	if !ok || s.Session != session {
		return ErrNotFound
	}
	delete(m.sounds, id)
	return nil
}

func (m *MemStore) Ping(context.Context) error { return nil }

// compareCreated orders sounds by creation time, then insertion order.
func compareCreated(a, b Sound) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}
