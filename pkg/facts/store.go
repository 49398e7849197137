// Package facts provides the per-host fact store used by the convergence
// engine. Facts are observed pieces of current state (installed versions,
// service status, published addresses) keyed by host and fact name.
//
// Each host has a fully isolated namespace; the only sanctioned way to read
// another host's facts is the variable resolver's explicit cross-group
// lookup. A store lives for exactly one run and values persist for the run's
// duration (no TTL). Writes are last-write-wins.
package facts

import (
	"sort"
	"sync"
)

// Values is a snapshot of one host's facts.
type Values map[string]string

// Store holds per-host fact namespaces for a single run.
// It is safe for concurrent use by hosts converging in parallel.
type Store struct {
	mu    sync.RWMutex
	hosts map[string]Values
}

// NewStore creates an empty fact store for a new run.
func NewStore() *Store {
	return &Store{
		hosts: make(map[string]Values),
	}
}

// Get returns the value of a fact for a host. The second return value is
// false when the fact was never set.
func (s *Store) Get(hostID, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values, ok := s.hosts[hostID]
	if !ok {
		return "", false
	}
	value, ok := values[key]
	return value, ok
}

// Set stores a fact for a host, overwriting any previous value.
func (s *Store) Set(hostID, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, ok := s.hosts[hostID]
	if !ok {
		values = make(Values)
		s.hosts[hostID] = values
	}
	values[key] = value
}

// SetAll stores a batch of facts for a host, overwriting existing keys.
func (s *Store) SetAll(hostID string, values Values) {
	if len(values) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.hosts[hostID]
	if !ok {
		existing = make(Values, len(values))
		s.hosts[hostID] = existing
	}
	for k, v := range values {
		existing[k] = v
	}
}

// Snapshot returns a copy of all facts currently known for a host.
// The copy is detached; later writes to the store do not affect it.
func (s *Store) Snapshot(hostID string) Values {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values, ok := s.hosts[hostID]
	if !ok {
		return Values{}
	}

	snapshot := make(Values, len(values))
	for k, v := range values {
		snapshot[k] = v
	}
	return snapshot
}

// Hosts returns the sorted host IDs that have at least one fact.
func (s *Store) Hosts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.hosts))
	for id, values := range s.hosts {
		if len(values) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Keys returns the sorted fact keys known for a host.
func (s *Store) Keys(hostID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values, ok := s.hosts[hostID]
	if !ok {
		return nil
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
