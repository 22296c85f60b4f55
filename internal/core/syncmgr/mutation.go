package syncmgr

import (
	"time"

	"github.com/charleschow/matchday/internal/core/match"
	"github.com/charleschow/matchday/internal/remote"
)

// Mutation is the latest known playing time of one player. Within a batch
// window a newer mutation for the same (fixture, player) replaces the older.
type Mutation struct {
	FixtureID    string
	PlayerID     string
	PlayerName   string
	TeamID       string
	TotalSeconds int
	Periods      []match.Period
	OpenSince    *time.Time

	// Rev is the entry revision the mutation was taken from.
	Rev uint64
}

// FromEntry captures a player time entry as of now.
func FromEntry(fixtureID string, p match.PlayerTimeEntry, now time.Time) Mutation {
	m := Mutation{
		FixtureID:    fixtureID,
		PlayerID:     p.PlayerID,
		PlayerName:   p.PlayerName,
		TeamID:       p.TeamID,
		TotalSeconds: p.TotalAt(now),
		Periods:      append([]match.Period(nil), p.Periods...),
		Rev:          p.Rev,
	}
	if p.IsPlaying && p.StartTime != nil {
		st := *p.StartTime
		m.OpenSince = &st
	}
	return m
}

// Record converts to the remote write format. Minutes are fractional.
func (m Mutation) Record() remote.PlayerTimeRecord {
	periods := make([]remote.PeriodRecord, 0, len(m.Periods)+1)
	for _, p := range m.Periods {
		end := p.End
		periods = append(periods, remote.PeriodRecord{Start: p.Start, End: &end, DurationSeconds: p.Duration})
	}
	if m.OpenSince != nil {
		closed := 0
		for _, p := range m.Periods {
			closed += p.Duration
		}
		periods = append(periods, remote.PeriodRecord{Start: *m.OpenSince, DurationSeconds: m.TotalSeconds - closed})
	}
	return remote.PlayerTimeRecord{
		FixtureID:    m.FixtureID,
		PlayerID:     m.PlayerID,
		PlayerName:   m.PlayerName,
		TeamID:       m.TeamID,
		TotalMinutes: SecondsToMinutes(m.TotalSeconds),
		Periods:      periods,
	}
}

// SecondsToMinutes truncates to hundredths of a minute.
func SecondsToMinutes(sec int) float64 {
	return float64(sec*100/60) / 100
}
