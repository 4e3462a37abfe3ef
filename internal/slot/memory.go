package slot

import "sync"

// MemoryStore keeps slots in process memory. Load and save failures can be
// injected to simulate unavailable or full storage.
type MemoryStore struct {
	mu      sync.Mutex
	slots   map[string][]byte
	loadErr error
	saveErr error
	saves   int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string][]byte)}
}

func (s *MemoryStore) Load(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	data, ok := s.slots[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Save(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.slots[key] = append([]byte(nil), data...)
	s.saves++
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, key)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// SetLoadError makes every Load fail with err until cleared with nil.
func (s *MemoryStore) SetLoadError(err error) {
	s.mu.Lock()
	s.loadErr = err
	s.mu.Unlock()
}

// SetSaveError makes every Save fail with err until cleared with nil.
func (s *MemoryStore) SetSaveError(err error) {
	s.mu.Lock()
	s.saveErr = err
	s.mu.Unlock()
}

// Put writes raw bytes, bypassing injected failures.
func (s *MemoryStore) Put(key string, data []byte) {
	s.mu.Lock()
	s.slots[key] = append([]byte(nil), data...)
	s.mu.Unlock()
}

// Saves returns the number of successful Save calls.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
