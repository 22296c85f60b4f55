// Package dedup keeps the remote event log free of repeated goal and card
// rows. Events are identical when they share fixture, type, team, player
// name and minute.
package dedup

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charleschow/matchday/internal/remote"
	"github.com/charleschow/matchday/internal/telemetry"
)

var ErrDuplicateEvent = errors.New("dedup: event already recorded")

// Claimer reserves an event key across devices for a short window so two
// referees recording the same goal cannot both pass the pre-check.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type Service struct {
	events   remote.EventStore
	claims   Claimer
	claimTTL time.Duration
}

func New(evs remote.EventStore) *Service {
	return &Service{events: evs}
}

// WithClaims enables cross-device claims. A nil claimer disables them.
func (s *Service) WithClaims(c Claimer, ttl time.Duration) *Service {
	s.claims = c
	s.claimTTL = ttl
	return s
}

// CheckGoalEventDuplicate reports whether a goal with the same team,
// player name and minute is already in the fixture's log.
func (s *Service) CheckGoalEventDuplicate(ctx context.Context, fixtureID, teamID, playerName string, eventTime int) (bool, error) {
	return s.exists(ctx, remote.EventKey{
		FixtureID:  fixtureID,
		EventType:  remote.EventGoal,
		TeamID:     teamID,
		PlayerName: playerName,
		EventTime:  eventTime,
	})
}

func (s *Service) exists(ctx context.Context, key remote.EventKey) (bool, error) {
	found, err := s.events.FindEvents(ctx, key)
	if err != nil {
		return false, fmt.Errorf("find events %s/%s: %w", key.FixtureID, key.EventType, err)
	}
	return len(found) > 0, nil
}

// InsertEvent writes ev unless an identical event exists, in which case it
// returns ErrDuplicateEvent. A claim taken for the insert is released when
// the insert fails so a retry is not blocked.
func (s *Service) InsertEvent(ctx context.Context, ev remote.MatchEvent) (remote.MatchEvent, error) {
	key := ev.Key()
	dup, err := s.exists(ctx, key)
	if err != nil {
		return remote.MatchEvent{}, err
	}
	if dup {
		telemetry.Metrics.DuplicatesBlocked.Inc()
		return remote.MatchEvent{}, fmt.Errorf("%s at minute %d for %s: %w", key.EventType, key.EventTime, key.TeamID, ErrDuplicateEvent)
	}

	var claimKey string
	if s.claims != nil {
		claimKey = ClaimKey(key)
		ok, err := s.claims.Claim(ctx, claimKey, s.claimTTL)
		if err != nil {
			return remote.MatchEvent{}, fmt.Errorf("claim %s: %w", claimKey, err)
		}
		if !ok {
			telemetry.Metrics.DuplicatesBlocked.Inc()
			return remote.MatchEvent{}, fmt.Errorf("%s at minute %d for %s claimed by another device: %w",
				key.EventType, key.EventTime, key.TeamID, ErrDuplicateEvent)
		}
	}

	saved, err := s.events.InsertEvent(ctx, ev)
	if err != nil {
		if claimKey != "" {
			if rerr := s.claims.Release(ctx, claimKey); rerr != nil {
				telemetry.Warnf("dedup: release claim %s: %v", claimKey, rerr)
			}
		}
		return remote.MatchEvent{}, fmt.Errorf("insert %s event %s: %w", ev.EventType, ev.FixtureID, err)
	}
	return saved, nil
}

// Existing returns the rows that share key, oldest first.
func (s *Service) Existing(ctx context.Context, key remote.EventKey) ([]remote.MatchEvent, error) {
	found, err := s.events.FindEvents(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find events %s/%s: %w", key.FixtureID, key.EventType, err)
	}
	return found, nil
}

// DeleteEvent removes one row of the fixture's log. A row that is already
// gone counts as deleted. With claims enabled the row's claim is released
// so the same event can be recorded again.
func (s *Service) DeleteEvent(ctx context.Context, fixtureID, eventID string) error {
	var claimKey string
	if s.claims != nil {
		evs, err := s.events.ListEvents(ctx, fixtureID)
		if err != nil {
			return fmt.Errorf("list events %s: %w", fixtureID, err)
		}
		for _, ev := range evs {
			if ev.ID == eventID {
				claimKey = ClaimKey(ev.Key())
				break
			}
		}
	}
	if err := s.events.DeleteEvent(ctx, eventID); err != nil && !errors.Is(err, remote.ErrNotFound) {
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	if claimKey != "" {
		if err := s.claims.Release(ctx, claimKey); err != nil {
			telemetry.Warnf("dedup: release claim %s: %v", claimKey, err)
		}
	}
	return nil
}

// ClaimKey is matchday:dup:{fixture}:{hash of the rest of the key}.
func ClaimKey(k remote.EventKey) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", k.EventType, k.TeamID, k.PlayerName, k.EventTime)))
	return fmt.Sprintf("matchday:dup:%s:%x", k.FixtureID, sum[:8])
}

// CleanupResult reports what a cleanup pass removed. Errors holds one entry
// per row that could not be deleted.
type CleanupResult struct {
	RemovedCount int      `json:"removed_count"`
	Errors       []string `json:"errors,omitempty"`
}

// CleanupDuplicateGoalEvents keeps the earliest-created goal of every
// duplicate group and deletes the rest. Failed deletions are collected and
// the pass continues.
func (s *Service) CleanupDuplicateGoalEvents(ctx context.Context, fixtureID string) (CleanupResult, error) {
	return s.CleanupDuplicates(ctx, fixtureID, remote.EventGoal)
}

// CleanupDuplicates is CleanupDuplicateGoalEvents for arbitrary types.
func (s *Service) CleanupDuplicates(ctx context.Context, fixtureID string, types ...remote.EventType) (CleanupResult, error) {
	evs, err := s.events.ListEvents(ctx, fixtureID, types...)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("list events %s: %w", fixtureID, err)
	}

	var res CleanupResult
	for _, ev := range Redundant(evs) {
		if err := s.events.DeleteEvent(ctx, ev.ID); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("delete %s: %v", ev.ID, err))
			continue
		}
		res.RemovedCount++
	}
	telemetry.Metrics.DuplicatesRemoved.Add(int64(res.RemovedCount))
	if res.RemovedCount > 0 || len(res.Errors) > 0 {
		telemetry.Infof("dedup: fixture %s removed %d duplicate event(s), %d error(s)",
			fixtureID, res.RemovedCount, len(res.Errors))
	}
	return res, nil
}

// Redundant returns every event that is not the earliest of its key group.
// Ties on CreatedAt are broken by id.
func Redundant(evs []remote.MatchEvent) []remote.MatchEvent {
	groups := make(map[remote.EventKey][]remote.MatchEvent)
	var order []remote.EventKey
	for _, ev := range evs {
		k := ev.Key()
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], ev)
	}

	var out []remote.MatchEvent
	for _, k := range order {
		g := groups[k]
		if len(g) < 2 {
			continue
		}
		sort.SliceStable(g, func(i, j int) bool {
			if g[i].CreatedAt.Equal(g[j].CreatedAt) {
				return g[i].ID < g[j].ID
			}
			return g[i].CreatedAt.Before(g[j].CreatedAt)
		})
		out = append(out, g[1:]...)
	}
	return out
}
