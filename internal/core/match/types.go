package match

import (
	"errors"
	"time"
)

var (
	ErrMissingTeam     = errors.New("match: team side is required")
	ErrInvalidTeam     = errors.New("match: team side must be home or away")
	ErrMissingPlayer   = errors.New("match: player id is required")
	ErrInvalidGoalType = errors.New("match: goal type must be goal or assist")
	ErrInvalidCardType = errors.New("match: card type must be yellow or red")
	ErrInvalidTime     = errors.New("match: time must not be negative")
)

type Side string

const (
	Home Side = "home"
	Away Side = "away"
)

func (s Side) Valid() bool { return s == Home || s == Away }

func (s Side) Opponent() Side {
	if s == Home {
		return Away
	}
	return Home
}

type GoalType string

const (
	GoalTypeGoal   GoalType = "goal"
	GoalTypeAssist GoalType = "assist"
)

type CardType string

const (
	Yellow CardType = "yellow"
	Red    CardType = "red"
)

type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Known reports whether the team identity has been resolved.
func (t Team) Known() bool { return t.ID != "" }

// GoalEntry.Time is seconds into the match. Team is the side of the player
// who put the ball in the net.
type GoalEntry struct {
	ID         string   `json:"id"`
	PlayerID   string   `json:"player_id,omitempty"`
	PlayerName string   `json:"player_name,omitempty"`
	Team       Side     `json:"team"`
	TeamID     string   `json:"team_id"`
	TeamName   string   `json:"team_name"`
	Type       GoalType `json:"type"`
	Time       int      `json:"time"`
	IsOwnGoal  bool     `json:"is_own_goal"`
	Synced     bool     `json:"synced"`
	Rev        uint64   `json:"rev"`

	// RemoteID is the event row last written for this goal, empty until
	// the first successful save.
	RemoteID string `json:"remote_id,omitempty"`
}

// ScoringSide is the side whose score the goal counts toward.
// Own goals count for the opponent.
func (g GoalEntry) ScoringSide() Side {
	if g.IsOwnGoal {
		return g.Team.Opponent()
	}
	return g.Team
}

func (g GoalEntry) counts() bool { return g.Type == GoalTypeGoal }

type CardEntry struct {
	ID         string   `json:"id"`
	PlayerID   string   `json:"player_id"`
	PlayerName string   `json:"player_name,omitempty"`
	Team       Side     `json:"team"`
	TeamID     string   `json:"team_id"`
	TeamName   string   `json:"team_name"`
	Type       CardType `json:"type"`
	Time       int      `json:"time"`
	Synced     bool     `json:"synced"`
	Rev        uint64   `json:"rev"`

	// SecondYellow is set on the red produced by a second caution.
	SecondYellow bool   `json:"second_yellow,omitempty"`
	RemoteID     string `json:"remote_id,omitempty"`
}

// Minute is the 1-based match minute of a time in seconds: 0..59s is
// minute 1. Negative times count as minute 1.
func Minute(sec int) int {
	if sec < 0 {
		sec = 0
	}
	return sec/60 + 1
}

type EntryKind string

const (
	KindGoal EntryKind = "goal"
	KindCard EntryKind = "card"
)

// Removal is a deleted goal or card whose event row still exists remotely.
type Removal struct {
	Kind     EntryKind `json:"kind"`
	ID       string    `json:"id"`
	RemoteID string    `json:"remote_id"`
}

// Ack confirms one written goal or card. RemoteID is the row the remote
// store now holds for it.
type Ack struct {
	Rev      uint64
	RemoteID string
}

// Period is a closed interval on the pitch. Duration is whole seconds.
type Period struct {
	Start    time.Time `json:"start_time"`
	End      time.Time `json:"end_time"`
	Duration int       `json:"duration"`
}

type PlayerTimeEntry struct {
	ID         string     `json:"id"`
	PlayerID   string     `json:"player_id"`
	PlayerName string     `json:"player_name"`
	Team       Side       `json:"team"`
	TeamID     string     `json:"team_id"`
	TeamName   string     `json:"team_name"`
	TotalTime  int        `json:"total_time"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	IsPlaying  bool       `json:"is_playing"`
	Periods    []Period   `json:"periods"`
	Synced     bool       `json:"synced"`
	Rev        uint64     `json:"rev"`
}

// ClosedSeconds sums the durations of all closed periods.
func (p *PlayerTimeEntry) ClosedSeconds() int {
	total := 0
	for _, per := range p.Periods {
		total += per.Duration
	}
	return total
}

// ElapsedAt returns whole seconds of the open period at now, 0 when stopped.
func (p *PlayerTimeEntry) ElapsedAt(now time.Time) int {
	if !p.IsPlaying || p.StartTime == nil {
		return 0
	}
	d := int(now.Sub(*p.StartTime) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

// TotalAt is the drift-free playing time at now.
func (p *PlayerTimeEntry) TotalAt(now time.Time) int {
	return p.ClosedSeconds() + p.ElapsedAt(now)
}

// Event is a free-form audit entry. Never synced.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Time        int       `json:"time"`
	CreatedAt   time.Time `json:"created_at"`
}

type UnsavedCounts struct {
	Goals       int `json:"goals"`
	Cards       int `json:"cards"`
	PlayerTimes int `json:"player_times"`
	Removals    int `json:"removals"`
	Total       int `json:"total"`
}

type GoalInput struct {
	PlayerID   string
	PlayerName string
	Team       Side
	Type       GoalType
	Time       int
	IsOwnGoal  bool
}

// GoalPatch attaches player identity after the fact. Team and time are fixed.
type GoalPatch struct {
	PlayerID   *string
	PlayerName *string
	IsOwnGoal  *bool
}

type CardInput struct {
	PlayerID   string
	PlayerName string
	Team       Side
	Type       CardType
	Time       int
}

type PlayerInput struct {
	PlayerID   string
	PlayerName string
	Team       Side
}

type PlayerPatch struct {
	PlayerName *string
	Team       *Side
}
