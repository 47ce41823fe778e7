package autosave

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]byte
	// FailWith makes every operation fail, for exercising error paths.
	FailWith error
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Save(ctx context.Context, rec Record) error {
	data, err := Encode(rec)
	if err != nil {
		return &PersistenceError{Op: "save", Backend: s.Name(), Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return &PersistenceError{Op: "save", Backend: s.Name(), Err: s.FailWith}
	}
	s.records[Key(rec.ProjectID)] = data
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, projectID string) (*Record, error) {
	s.mu.Lock()
	data, ok := s.records[Key(projectID)]
	fail := s.FailWith
	s.mu.Unlock()

	if fail != nil {
		return nil, &PersistenceError{Op: "load", Backend: s.Name(), Err: fail}
	}
	if !ok {
		return nil, ErrNotFound
	}
	return Decode(data)
}

func (s *MemoryStore) Delete(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return &PersistenceError{Op: "delete", Backend: s.Name(), Err: s.FailWith}
	}
	delete(s.records, Key(projectID))
	return nil
}

// Put stores raw bytes under a project key, bypassing encoding.
func (s *MemoryStore) Put(projectID string, data []byte) {
	s.mu.Lock()
	s.records[Key(projectID)] = data
	s.mu.Unlock()
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
