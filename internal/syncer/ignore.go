package syncer

import (
	"sync"
	"time"
)

// DefaultIgnoreTTL is how long a registered path stays suppressed. Watcher
// events for an own write normally arrive within milliseconds; the TTL only
// bounds the window when the expected event never shows up.
const DefaultIgnoreTTL = 2 * time.Second

// IgnoreSet suppresses watcher events caused by the engine's own file
// writes. A path is registered just before the write and consumed by the
// first matching event, so a later external edit to the same file still
// triggers a resync.
type IgnoreSet struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

// NewIgnoreSet creates an ignore set. A non-positive ttl falls back to
// DefaultIgnoreTTL.
func NewIgnoreSet(ttl time.Duration) *IgnoreSet {
	if ttl <= 0 {
		ttl = DefaultIgnoreTTL
	}
	return &IgnoreSet{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Register marks a path so its next watcher event is swallowed.
func (s *IgnoreSet) Register(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[path] = s.now().Add(s.ttl)
}

// Consume reports whether the path was registered and still fresh, removing
// the entry either way. One registration suppresses exactly one event.
func (s *IgnoreSet) Consume(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := s.entries[path]
	if !ok {
		return false
	}
	delete(s.entries, path)
	return s.now().Before(deadline)
}

// Sweep drops expired entries. Called opportunistically from the sync loop
// so abandoned registrations do not accumulate.
func (s *IgnoreSet) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for path, deadline := range s.entries {
		if now.After(deadline) {
			delete(s.entries, path)
		}
	}
}
