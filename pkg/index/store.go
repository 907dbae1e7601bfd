package index

import (
	"sync"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
)

// Store holds one snapshot per session id.
type Store interface {
	// Put stores s under id, replacing any previous snapshot.
	Put(id string, s *Snapshot) error
	// Get returns the snapshot for id or a faults.ErrNotFound error.
	Get(id string) (*Snapshot, error)
	// Delete drops the snapshot for id. Deleting a missing id is not an
	// error.
	Delete(id string) error
}

func notFound(id string) error {
	return faults.NotFoundf("no index for session %q", id)
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]*Snapshot
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]*Snapshot)}
}

// Put implements Store.
func (m *MemoryStore) Put(id string, s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[id] = s
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(id string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snaps[id]
	if !ok {
		return nil, notFound(id)
	}
	return s, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, id)
	return nil
}

// Len returns the number of stored snapshots.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snaps)
}
