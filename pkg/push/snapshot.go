package push

import (
	"sync"
	"time"

	"github.com/teslashibe/go-seer/pkg/protocol"
)

// Snapshot is the latest telemetry object and when it arrived.
type Snapshot struct {
	Data       protocol.Payload `json:"data"`
	ReceivedAt time.Time        `json:"received_at"`
}

// Empty reports whether no telemetry has been received.
func (s Snapshot) Empty() bool {
	return s.ReceivedAt.IsZero()
}

// Store holds the latest Snapshot. Each Set replaces the previous value
// wholesale and readers always get a copy.
type Store struct {
	mu   sync.RWMutex
	data protocol.Payload
	at   time.Time
}

// Set replaces the stored snapshot.
func (s *Store) Set(p protocol.Payload, at time.Time) {
	c := p.Clone()
	s.mu.Lock()
	s.data = c
	s.at = at
	s.mu.Unlock()
}

// Get returns a copy of the current snapshot.
func (s *Store) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Data: s.data.Clone(), ReceivedAt: s.at}
}

// LastUpdate returns when the snapshot was last replaced.
func (s *Store) LastUpdate() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.at, !s.at.IsZero()
}

// Clear forgets the stored snapshot.
func (s *Store) Clear() {
	s.mu.Lock()
	s.data = nil
	s.at = time.Time{}
	s.mu.Unlock()
}
