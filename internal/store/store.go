// Package store is the in-memory intent/policy collaborator the API
// surface lists from. It is intentionally not durable across restarts;
// nothing in the controller depends on replaying history.
package store

import (
	"sync"
	"time"

	"github.com/ibsfleet/controller/internal/dispatch"
	"github.com/ibsfleet/controller/internal/intent"
	"github.com/ibsfleet/controller/internal/policy"
)

// Record is one submitted directive's full audit trail: the original text,
// what it parsed to, the policies it generated, and the per-policy outcome.
type Record struct {
	ID        string
	Directive string
	Intent    intent.ParsedIntent
	Results   []dispatch.Result
	CreatedAt time.Time
}

// Store holds submitted directives in memory, most-recent first.
type Store struct {
	mu      sync.RWMutex
	records []Record
	byID    map[string]int // id -> index into records
}

// New returns an empty Store.
func New() *Store {
	return &Store{byID: map[string]int{}}
}

// Put records a new directive submission.
func (s *Store) Put(id string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = id
	s.records = append([]Record{rec}, s.records...)
	s.reindexLocked()
}

func (s *Store) reindexLocked() {
	s.byID = make(map[string]int, len(s.records))
	for i, r := range s.records {
		s.byID[r.ID] = i
	}
}

// Get returns the record for id, if present.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return Record{}, false
	}
	return s.records[idx], true
}

// List returns every record, most-recent first.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// isActive reports whether rec has at least one policy whose enforcement
// succeeded, the proxy the metrics collector uses for "active intents".
func isActive(rec Record) bool {
	for _, r := range rec.Results {
		if r.Success {
			return true
		}
	}
	return false
}

// ActiveCount implements metrics.IntentCounter: the number of stored
// directives with at least one successfully enforced policy. Best-effort
// by construction — it never returns an error.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.records {
		if isActive(r) {
			n++
		}
	}
	return n
}

// ListPolicies flattens every stored record's policies, most-recent first.
func (s *Store) ListPolicies() []policy.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []policy.Policy
	for _, r := range s.records {
		for _, res := range r.Results {
			out = append(out, res.Policy)
		}
	}
	return out
}
