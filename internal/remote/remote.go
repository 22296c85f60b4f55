// Package remote defines the records and ports of the hosted relational
// backend that officiating sessions persist to.
package remote

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("remote: not found")

type EventType string

const (
	EventGoal       EventType = "goal"
	EventAssist     EventType = "assist"
	EventYellowCard EventType = "yellow_card"
	EventRedCard    EventType = "red_card"
)

type Fixture struct {
	ID           string    `json:"id"`
	HomeTeamID   string    `json:"home_team_id"`
	HomeTeamName string    `json:"home_team_name"`
	AwayTeamID   string    `json:"away_team_id"`
	AwayTeamName string    `json:"away_team_name"`
	HomeScore    int       `json:"home_score"`
	AwayScore    int       `json:"away_score"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MatchEvent is one row of the fixture event log. EventTime is the match
// minute, 1-based.
type MatchEvent struct {
	ID         string    `json:"id"`
	FixtureID  string    `json:"fixture_id"`
	EventType  EventType `json:"event_type"`
	TeamID     string    `json:"team_id"`
	PlayerID   string    `json:"player_id,omitempty"`
	PlayerName string    `json:"player_name"`
	EventTime  int       `json:"event_time"`
	IsOwnGoal  bool      `json:"is_own_goal"`
	CreatedAt  time.Time `json:"created_at"`
}

// Key returns the identity used for duplicate detection.
func (e MatchEvent) Key() EventKey {
	return EventKey{
		FixtureID:  e.FixtureID,
		EventType:  e.EventType,
		TeamID:     e.TeamID,
		PlayerName: e.PlayerName,
		EventTime:  e.EventTime,
	}
}

// EventKey is (fixture, type, team, player name, minute).
type EventKey struct {
	FixtureID  string
	EventType  EventType
	TeamID     string
	PlayerName string
	EventTime  int
}

// PlayerTimeRecord is upserted on (fixture, player).
type PlayerTimeRecord struct {
	FixtureID    string         `json:"fixture_id"`
	PlayerID     string         `json:"player_id"`
	PlayerName   string         `json:"player_name"`
	TeamID       string         `json:"team_id"`
	TotalMinutes float64        `json:"total_minutes"`
	Periods      []PeriodRecord `json:"periods"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type PeriodRecord struct {
	Start           time.Time  `json:"start"`
	End             *time.Time `json:"end,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
}

type FixtureStore interface {
	FetchFixture(ctx context.Context, fixtureID string) (Fixture, error)
	UpdateFixtureScore(ctx context.Context, fixtureID string, home, away int) error
}

type EventStore interface {
	// ListEvents returns the fixture's events ordered by created_at, id.
	// No types means all types.
	ListEvents(ctx context.Context, fixtureID string, types ...EventType) ([]MatchEvent, error)
	FindEvents(ctx context.Context, key EventKey) ([]MatchEvent, error)
	InsertEvent(ctx context.Context, ev MatchEvent) (MatchEvent, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

type PlayerTimeStore interface {
	UpsertPlayerTime(ctx context.Context, rec PlayerTimeRecord) error
}

// Store is the full backend surface.
type Store interface {
	FixtureStore
	EventStore
	PlayerTimeStore
	Close() error
}
