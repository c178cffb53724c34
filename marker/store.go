package marker

import (
	"errors"
	"sync"
)

var (
	// ErrDuplicateID is returned by Add and ReceiveExternal when a marker
	// with the same id already exists. Rejection is idempotent; the stored
	// marker is untouched.
	ErrDuplicateID = errors.New("marker: duplicate id")

	// ErrUnknownID is returned by Update when no marker with that id exists.
	ErrUnknownID = errors.New("marker: unknown id")
)

// Store is the keyed-record collection the link engine replicates.
//
// Add and Update feed the outbound sync hook so a local change propagates
// to connected peers. ReceiveExternal is the distinct entry point for
// markers arriving from a peer: it never triggers the hook, which is what
// breaks the echo loop between two devices that both auto-sync on every
// local write.
type Store interface {
	ListAll() []Marker
	Add(m Marker) error
	Update(m Marker) error
	ReceiveExternal(m Marker) error

	// SetSyncFunc installs the outbound replication hook. Passing nil
	// disables it.
	SetSyncFunc(fn func(Marker))
}

// MemoryStore keeps markers in memory in insertion order.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]int
	markers  []Marker
	syncFunc func(Marker)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

func (s *MemoryStore) SetSyncFunc(fn func(Marker)) {
	s.mu.Lock()
	s.syncFunc = fn
	s.mu.Unlock()
}

func (s *MemoryStore) ListAll() []Marker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Marker, len(s.markers))
	copy(out, s.markers)
	return out
}

func (s *MemoryStore) Add(m Marker) error {
	if err := s.insert(m); err != nil {
		return err
	}
	s.notifySync(m)
	return nil
}

func (s *MemoryStore) Update(m Marker) error {
	s.mu.Lock()
	idx, ok := s.byID[m.ID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownID
	}
	s.markers[idx] = m
	s.mu.Unlock()
	s.notifySync(m)
	return nil
}

func (s *MemoryStore) ReceiveExternal(m Marker) error {
	return s.insert(m)
}

func (s *MemoryStore) insert(m Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[m.ID]; exists {
		return ErrDuplicateID
	}
	s.byID[m.ID] = len(s.markers)
	s.markers = append(s.markers, m)
	return nil
}

func (s *MemoryStore) notifySync(m Marker) {
	s.mu.RLock()
	fn := s.syncFunc
	s.mu.RUnlock()
	if fn != nil {
		fn(m)
	}
}
