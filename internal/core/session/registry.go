package session

import (
	"sort"
	"sync"

	"github.com/charleschow/matchday/internal/telemetry"
)

// Registry is a thread-safe map of open sessions keyed by fixture id.
//
// The mutex protects the map only. Each Session serialises its own state
// through its inbox.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Get(fixtureID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[fixtureID]
	return s, ok
}

// Add registers s unless the fixture already has a session, in which case
// the existing one is returned with false.
func (r *Registry) Add(s *Session) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.FixtureID()]; ok {
		return cur, false
	}
	r.sessions[s.FixtureID()] = s
	telemetry.Metrics.ActiveSessions.Set(int64(len(r.sessions)))
	return s, true
}

// Remove drops the fixture's session and closes it.
func (r *Registry) Remove(fixtureID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[fixtureID]
	delete(r.sessions, fixtureID)
	telemetry.Metrics.ActiveSessions.Set(int64(len(r.sessions)))
	r.mu.Unlock()

	if ok {
		s.Close()
	}
	return ok
}

// All returns the open sessions ordered by fixture id.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FixtureID() < out[j].FixtureID() })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes and removes every session.
func (r *Registry) CloseAll() {
	for _, s := range r.All() {
		r.Remove(s.FixtureID())
	}
}
