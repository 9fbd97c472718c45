package session

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process. States are stored serialized so
// callers never share memory with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]byte), now: time.Now}
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st.CreatedAt = now
	st.UpdatedAt = now
	st.Version = 1

	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	s.sessions[st.ID] = b
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.sessions[st.ID]
	if !ok {
		return ErrNotFound
	}
	var stored State
	if err := json.Unmarshal(b, &stored); err != nil {
		return err
	}
	if stored.Version != st.Version {
		return ErrVersionConflict
	}

	st.Version++
	st.UpdatedAt = s.now()
	nb, err := json.Marshal(st)
	if err != nil {
		st.Version--
		return err
	}
	s.sessions[st.ID] = nb
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string][]byte)
	return nil
}
