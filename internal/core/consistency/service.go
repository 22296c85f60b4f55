// Package consistency compares a fixture's stored score with the score
// implied by its goal-event log and corrects the stored score on request.
// The event log is authoritative.
package consistency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/charleschow/matchday/internal/events"
	"github.com/charleschow/matchday/internal/remote"
	"github.com/charleschow/matchday/internal/telemetry"
)

type Score struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

func (s Score) String() string { return fmt.Sprintf("%d-%d", s.Home, s.Away) }

// ScoreVerification is computed, never stored.
type ScoreVerification struct {
	FixtureID        string `json:"fixture_id"`
	FixtureScores    Score  `json:"fixture_scores"`
	CalculatedScores Score  `json:"calculated_scores"`
	IsInSync         bool   `json:"is_in_sync"`
	Discrepancy      string `json:"discrepancy,omitempty"`

	// Unattributed counts goal events whose team matches neither side.
	Unattributed int `json:"unattributed,omitempty"`
}

type Service struct {
	fixtures remote.FixtureStore
	events   remote.EventStore
	bus      *events.Bus
	sf       singleflight.Group
}

func New(fixtures remote.FixtureStore, evs remote.EventStore, bus *events.Bus) *Service {
	return &Service{fixtures: fixtures, events: evs, bus: bus}
}

// CalculateScore counts goal events by team. Own goals count for the
// other side.
func CalculateScore(f remote.Fixture, evs []remote.MatchEvent) (Score, int) {
	var s Score
	unattributed := 0
	for _, ev := range evs {
		if ev.EventType != remote.EventGoal {
			continue
		}
		home := ev.TeamID == f.HomeTeamID
		away := ev.TeamID == f.AwayTeamID
		if !home && !away {
			unattributed++
			continue
		}
		if ev.IsOwnGoal {
			home, away = away, home
		}
		if home {
			s.Home++
		} else {
			s.Away++
		}
	}
	return s, unattributed
}

// VerifyScoreSync reads the stored score and the event log. Concurrent
// calls for one fixture share a single round trip. A failed read is
// returned as an error and never reported as in sync.
func (s *Service) VerifyScoreSync(ctx context.Context, fixtureID string) (ScoreVerification, error) {
	v, err, _ := s.sf.Do("verify:"+fixtureID, func() (any, error) {
		return s.verify(ctx, fixtureID)
	})
	if err != nil {
		return ScoreVerification{}, err
	}
	return v.(ScoreVerification), nil
}

func (s *Service) verify(ctx context.Context, fixtureID string) (ScoreVerification, error) {
	start := time.Now()
	defer telemetry.Metrics.RemoteLatency.Since(start)

	f, calculated, unattributed, err := s.load(ctx, fixtureID)
	if err != nil {
		return ScoreVerification{}, err
	}

	v := ScoreVerification{
		FixtureID:        fixtureID,
		FixtureScores:    Score{Home: f.HomeScore, Away: f.AwayScore},
		CalculatedScores: calculated,
		Unattributed:     unattributed,
	}
	v.IsInSync = v.FixtureScores == v.CalculatedScores
	if !v.IsInSync {
		v.Discrepancy = fmt.Sprintf("Fixture score %s does not match events score %s", v.FixtureScores, v.CalculatedScores)
		telemetry.Metrics.Discrepancies.Inc()
		telemetry.Warnf("consistency: fixture %s: %s", fixtureID, v.Discrepancy)
	}
	if unattributed > 0 {
		telemetry.Warnf("consistency: fixture %s has %d goal event(s) for an unknown team", fixtureID, unattributed)
	}

	s.bus.Publish(events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventScoreVerified,
		FixtureID: fixtureID,
		Timestamp: time.Now(),
		Payload: events.ScoreVerified{
			InSync:      v.IsInSync,
			FixtureHome: v.FixtureScores.Home,
			FixtureAway: v.FixtureScores.Away,
			EventsHome:  v.CalculatedScores.Home,
			EventsAway:  v.CalculatedScores.Away,
			Message:     v.Discrepancy,
		},
	})
	return v, nil
}

// UpdateFixtureScoreRealTime overwrites the stored score with the score
// derived from the event log. Running it again without new events is a
// no-op write of the same values.
func (s *Service) UpdateFixtureScoreRealTime(ctx context.Context, fixtureID string) (Score, error) {
	v, err, _ := s.sf.Do("fix:"+fixtureID, func() (any, error) {
		f, calculated, _, err := s.load(ctx, fixtureID)
		if err != nil {
			return Score{}, err
		}
		if err := s.fixtures.UpdateFixtureScore(ctx, fixtureID, calculated.Home, calculated.Away); err != nil {
			return Score{}, fmt.Errorf("update fixture score %s: %w", fixtureID, err)
		}
		if f.HomeScore != calculated.Home || f.AwayScore != calculated.Away {
			telemetry.Metrics.ScoreFixes.Inc()
			telemetry.Infof("consistency: fixture %s score corrected %d-%d -> %s",
				fixtureID, f.HomeScore, f.AwayScore, calculated)
		}
		return calculated, nil
	})
	if err != nil {
		return Score{}, err
	}
	return v.(Score), nil
}

func (s *Service) load(ctx context.Context, fixtureID string) (remote.Fixture, Score, int, error) {
	f, err := s.fixtures.FetchFixture(ctx, fixtureID)
	if err != nil {
		return remote.Fixture{}, Score{}, 0, fmt.Errorf("fetch fixture %s: %w", fixtureID, err)
	}
	evs, err := s.events.ListEvents(ctx, fixtureID, remote.EventGoal)
	if err != nil {
		return remote.Fixture{}, Score{}, 0, fmt.Errorf("list goal events %s: %w", fixtureID, err)
	}
	calculated, unattributed := CalculateScore(f, evs)
	return f, calculated, unattributed, nil
}
