// Package remotetest provides an in-memory remote.Store for tests.
package remotetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charleschow/matchday/internal/remote"
)

// Memory is a goroutine-safe in-memory backend. Hook, when set, runs
// before every operation with the method name; a non-nil return fails
// the call. Hooks may block to simulate slow writes.
type Memory struct {
	mu          sync.Mutex
	fixtures    map[string]remote.Fixture
	events      []remote.MatchEvent
	playerTimes map[string]remote.PlayerTimeRecord
	calls       map[string]int
	nextID      int
	now         func() time.Time

	Hook func(op string) error
}

func NewMemory() *Memory {
	base := time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC)
	n := 0
	return &Memory{
		fixtures:    make(map[string]remote.Fixture),
		playerTimes: make(map[string]remote.PlayerTimeRecord),
		calls:       make(map[string]int),
		now: func() time.Time {
			n++
			return base.Add(time.Duration(n) * time.Second)
		},
	}
}

// FailOn makes every call to op return err.
func (m *Memory) FailOn(op string, err error) {
	m.Hook = func(o string) error {
		if o == op {
			return err
		}
		return nil
	}
}

func (m *Memory) PutFixture(f remote.Fixture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixtures[f.ID] = f
}

// Seed appends events verbatim, keeping their ids and timestamps.
func (m *Memory) Seed(evs ...remote.MatchEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evs...)
}

func (m *Memory) Events() []remote.MatchEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]remote.MatchEvent(nil), m.events...)
}

func (m *Memory) PlayerTime(fixtureID, playerID string) (remote.PlayerTimeRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.playerTimes[fixtureID+"/"+playerID]
	return rec, ok
}

func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *Memory) enter(op string) error {
	m.mu.Lock()
	m.calls[op]++
	hook := m.Hook
	m.mu.Unlock()
	if hook != nil {
		return hook(op)
	}
	return nil
}

func (m *Memory) FetchFixture(_ context.Context, fixtureID string) (remote.Fixture, error) {
	if err := m.enter("FetchFixture"); err != nil {
		return remote.Fixture{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fixtures[fixtureID]
	if !ok {
		return remote.Fixture{}, fmt.Errorf("fixture %s: %w", fixtureID, remote.ErrNotFound)
	}
	return f, nil
}

func (m *Memory) UpdateFixtureScore(_ context.Context, fixtureID string, home, away int) error {
	if err := m.enter("UpdateFixtureScore"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fixtures[fixtureID]
	if !ok {
		return fmt.Errorf("fixture %s: %w", fixtureID, remote.ErrNotFound)
	}
	f.HomeScore, f.AwayScore = home, away
	f.UpdatedAt = m.now()
	m.fixtures[fixtureID] = f
	return nil
}

func (m *Memory) ListEvents(_ context.Context, fixtureID string, types ...remote.EventType) ([]remote.MatchEvent, error) {
	if err := m.enter("ListEvents"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []remote.MatchEvent
	for _, ev := range m.events {
		if ev.FixtureID != fixtureID {
			continue
		}
		if len(types) > 0 && !containsType(types, ev.EventType) {
			continue
		}
		out = append(out, ev)
	}
	sortEvents(out)
	return out, nil
}

func (m *Memory) FindEvents(_ context.Context, key remote.EventKey) ([]remote.MatchEvent, error) {
	if err := m.enter("FindEvents"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []remote.MatchEvent
	for _, ev := range m.events {
		if ev.Key() == key {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out, nil
}

func (m *Memory) InsertEvent(_ context.Context, ev remote.MatchEvent) (remote.MatchEvent, error) {
	if err := m.enter("InsertEvent"); err != nil {
		return remote.MatchEvent{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == "" {
		m.nextID++
		ev.ID = fmt.Sprintf("ev-%03d", m.nextID)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = m.now()
	}
	m.events = append(m.events, ev)
	return ev, nil
}

func (m *Memory) DeleteEvent(_ context.Context, eventID string) error {
	if err := m.enter("DeleteEvent"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, ev := range m.events {
		if ev.ID == eventID {
			m.events = append(m.events[:i], m.events[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("event %s: %w", eventID, remote.ErrNotFound)
}

func (m *Memory) UpsertPlayerTime(_ context.Context, rec remote.PlayerTimeRecord) error {
	if err := m.enter("UpsertPlayerTime"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.UpdatedAt = m.now()
	m.playerTimes[rec.FixtureID+"/"+rec.PlayerID] = rec
	return nil
}

func (m *Memory) Close() error { return nil }

func containsType(types []remote.EventType, t remote.EventType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func sortEvents(evs []remote.MatchEvent) {
	sort.SliceStable(evs, func(i, j int) bool {
		if evs[i].CreatedAt.Equal(evs[j].CreatedAt) {
			return evs[i].ID < evs[j].ID
		}
		return evs[i].CreatedAt.Before(evs[j].CreatedAt)
	})
}
