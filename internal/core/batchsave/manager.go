// Package batchsave flushes everything a session has not yet persisted as
// one logical "Save All".
package batchsave

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/charleschow/matchday/internal/core/dedup"
	"github.com/charleschow/matchday/internal/core/match"
	"github.com/charleschow/matchday/internal/core/session"
	"github.com/charleschow/matchday/internal/core/syncmgr"
	"github.com/charleschow/matchday/internal/events"
	"github.com/charleschow/matchday/internal/remote"
	"github.com/charleschow/matchday/internal/telemetry"
)

var (
	ErrSaveInProgress = errors.New("batchsave: save already in progress")
	ErrMissingTeams   = errors.New("batchsave: home and away team identity required")
	ErrIncomplete     = errors.New("batchsave: some items were not saved")
)

// Failure names one item the remote store rejected.
type Failure struct {
	Kind string `json:"kind"` // goal, card or player_time
	ID   string `json:"id"`
	Err  string `json:"error"`
}

type Result struct {
	Goals            int       `json:"goals"`
	Cards            int       `json:"cards"`
	PlayerTimes      int       `json:"player_times"`
	Removed          int       `json:"removed"`
	AlreadyPersisted int       `json:"already_persisted"`
	Failures         []Failure `json:"failures,omitempty"`
	NothingToSave    bool      `json:"nothing_to_save,omitempty"`
	MarkedSaved      bool      `json:"marked_saved"`
}

// Saved counts items the remote store now holds, duplicates included.
func (r Result) Saved() int { return r.Goals + r.Cards + r.PlayerTimes }

func (r Result) OK() bool { return len(r.Failures) == 0 }

// Manager allows one SaveAll at a time across all sessions it serves.
type Manager struct {
	events      *dedup.Service
	playerTimes remote.PlayerTimeStore
	bus         *events.Bus
	inFlight    atomic.Bool
}

func New(evs *dedup.Service, playerTimes remote.PlayerTimeStore, bus *events.Bus) *Manager {
	return &Manager{events: evs, playerTimes: playerTimes, bus: bus}
}

// batch is the unsaved part of a session, captured on its goroutine.
type batch struct {
	fixtureID   string
	epoch       uint64
	goals       []match.GoalEntry
	cards       []match.CardEntry
	playerTimes []syncmgr.Mutation
	removals    []match.Removal
	missing     bool

	// owned holds the remote rows already tied to an entry on the sheet.
	owned map[string]bool
}

func (b batch) writes() int {
	return len(b.goals) + len(b.cards) + len(b.playerTimes)
}

func (b batch) empty() bool {
	return b.writes()+len(b.removals) == 0
}

// SaveAll writes every unsynced goal, card and player time of s, the
// running time of every player on the pitch, and deletes the rows of saved
// entries removed since.
//
// Each item is confirmed on its own, so a retry only resends what failed.
// The session is marked saved only when nothing failed and nothing was
// edited while the save was running. A partial failure returns the result
// together with ErrIncomplete.
func (m *Manager) SaveAll(ctx context.Context, s *session.Session) (Result, error) {
	if !m.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrSaveInProgress
	}
	defer m.inFlight.Store(false)

	var b batch
	if err := s.WithState(func(st *match.State) { b = capture(st, s.Now()) }); err != nil {
		return Result{}, err
	}
	if b.empty() {
		return Result{NothingToSave: true, MarkedSaved: true}, nil
	}
	if b.missing && b.writes() > 0 {
		return Result{}, fmt.Errorf("fixture %s: %w", b.fixtureID, ErrMissingTeams)
	}

	start := time.Now()
	var res Result
	deleted := make(map[string]string, len(b.removals))
	goalAcks := make(map[string]match.Ack, len(b.goals))
	cardAcks := make(map[string]match.Ack, len(b.cards))
	playerRevs := make(map[string]uint64, len(b.playerTimes))

	// Deletions go first so an entry removed and recorded again is not
	// mistaken for a duplicate of its old row.
	for _, r := range b.removals {
		if err := m.events.DeleteEvent(ctx, b.fixtureID, r.RemoteID); err != nil {
			res.Failures = append(res.Failures, Failure{Kind: "removed_" + string(r.Kind), ID: r.ID, Err: err.Error()})
			continue
		}
		delete(b.owned, r.RemoteID)
		deleted[r.ID] = r.RemoteID
		res.Removed++
	}
	for _, g := range b.goals {
		rowID, adopted, err := m.write(ctx, goalEvent(b.fixtureID, g), g.RemoteID, b.owned)
		if err != nil {
			res.Failures = append(res.Failures, Failure{Kind: "goal", ID: g.ID, Err: err.Error()})
			continue
		}
		if adopted {
			res.AlreadyPersisted++
		}
		goalAcks[g.ID] = match.Ack{Rev: g.Rev, RemoteID: rowID}
		res.Goals++
	}
	for _, c := range b.cards {
		rowID, adopted, err := m.write(ctx, cardEvent(b.fixtureID, c), c.RemoteID, b.owned)
		if err != nil {
			res.Failures = append(res.Failures, Failure{Kind: "card", ID: c.ID, Err: err.Error()})
			continue
		}
		if adopted {
			res.AlreadyPersisted++
		}
		cardAcks[c.ID] = match.Ack{Rev: c.Rev, RemoteID: rowID}
		res.Cards++
	}
	for _, mut := range b.playerTimes {
		if err := m.playerTimes.UpsertPlayerTime(ctx, mut.Record()); err != nil {
			res.Failures = append(res.Failures, Failure{Kind: "player_time", ID: mut.PlayerID, Err: err.Error()})
			continue
		}
		playerRevs[mut.PlayerID] = mut.Rev
		res.PlayerTimes++
	}
	telemetry.Metrics.RemoteLatency.Since(start)

	err := s.WithState(func(st *match.State) {
		if st.Epoch() != b.epoch {
			return
		}
		for id, rowID := range deleted {
			st.ForgetRemoval(id, rowID)
		}
		st.ConfirmGoals(goalAcks)
		st.ConfirmCards(cardAcks)
		st.ConfirmPlayerTimes(playerRevs)
		if res.OK() && !st.HasUnsavedChanges() {
			st.MarkAsSaved(s.Now())
			res.MarkedSaved = true
		}
	})
	if err != nil {
		return res, err
	}

	telemetry.Metrics.BatchSaves.Inc()
	payload := events.BatchSaved{
		OK:               res.OK(),
		Goals:            res.Goals,
		Cards:            res.Cards,
		PlayerTimes:      res.PlayerTimes,
		Removed:          res.Removed,
		AlreadyPersisted: res.AlreadyPersisted,
	}
	for _, f := range res.Failures {
		payload.Failures = append(payload.Failures, fmt.Sprintf("%s %s: %s", f.Kind, f.ID, f.Err))
	}
	m.bus.Publish(events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventBatchSaved,
		FixtureID: b.fixtureID,
		Timestamp: s.Now(),
		Payload:   payload,
	})

	total := res.Saved() + res.Removed + len(res.Failures)
	if !res.OK() {
		telemetry.Metrics.BatchSaveFailures.Inc()
		telemetry.Warnf("batchsave: fixture %s saved %d item(s), removed %d, %d failed",
			b.fixtureID, res.Saved(), res.Removed, len(res.Failures))
		return res, fmt.Errorf("fixture %s: %d of %d item(s) failed: %w",
			b.fixtureID, len(res.Failures), total, ErrIncomplete)
	}
	telemetry.Infof("batchsave: fixture %s saved %d goal(s) %d card(s) %d player time(s), removed %d, %d already persisted",
		b.fixtureID, res.Goals, res.Cards, res.PlayerTimes, res.Removed, res.AlreadyPersisted)
	return res, nil
}

// write stores ev as the entry's row, replacing the row prev it was saved
// as before. When an identical row already exists it is adopted, provided
// no other entry on the sheet owns it; otherwise the duplicate is an error.
// Returns the row id and whether it was adopted.
func (m *Manager) write(ctx context.Context, ev remote.MatchEvent, prev string, owned map[string]bool) (string, bool, error) {
	if prev != "" {
		if err := m.events.DeleteEvent(ctx, ev.FixtureID, prev); err != nil {
			return "", false, fmt.Errorf("replace %s: %w", prev, err)
		}
		delete(owned, prev)
	}

	saved, err := m.events.InsertEvent(ctx, ev)
	if err == nil {
		owned[saved.ID] = true
		return saved.ID, false, nil
	}
	if !errors.Is(err, dedup.ErrDuplicateEvent) {
		return "", false, err
	}
	rows, ferr := m.events.Existing(ctx, ev.Key())
	if ferr != nil {
		return "", false, ferr
	}
	for _, row := range rows {
		if !owned[row.ID] {
			owned[row.ID] = true
			return row.ID, true, nil
		}
	}
	return "", false, err
}

func capture(st *match.State, now time.Time) batch {
	b := batch{
		fixtureID: st.FixtureID,
		epoch:     st.Epoch(),
		missing:   !st.Home.Known() || !st.Away.Known(),
		removals:  append([]match.Removal(nil), st.Removed...),
		owned:     make(map[string]bool),
	}
	for _, g := range st.Goals {
		if g.RemoteID != "" {
			b.owned[g.RemoteID] = true
		}
		if !g.Synced {
			b.goals = append(b.goals, g)
		}
	}
	for _, c := range st.Cards {
		if c.RemoteID != "" {
			b.owned[c.RemoteID] = true
		}
		if !c.Synced {
			b.cards = append(b.cards, c)
		}
	}
	for _, r := range st.Removed {
		b.owned[r.RemoteID] = true
	}
	// A running clock has accrued time since its last write even when the
	// entry itself is synced.
	for _, p := range st.PlayerTimes {
		if !p.Synced || p.IsPlaying {
			b.playerTimes = append(b.playerTimes, syncmgr.FromEntry(st.FixtureID, p, now))
		}
	}
	return b
}

// EventMinute converts match seconds into the 1-based minute the event log
// stores: 0..59s is minute 1.
func EventMinute(sec int) int { return match.Minute(sec) }

// goalEvent keeps the scorer's team on the row; IsOwnGoal tells readers to
// credit the other side.
func goalEvent(fixtureID string, g match.GoalEntry) remote.MatchEvent {
	typ := remote.EventGoal
	if g.Type == match.GoalTypeAssist {
		typ = remote.EventAssist
	}
	return remote.MatchEvent{
		FixtureID:  fixtureID,
		EventType:  typ,
		TeamID:     g.TeamID,
		PlayerID:   g.PlayerID,
		PlayerName: g.PlayerName,
		EventTime:  EventMinute(g.Time),
		IsOwnGoal:  g.IsOwnGoal,
	}
}

func cardEvent(fixtureID string, c match.CardEntry) remote.MatchEvent {
	typ := remote.EventYellowCard
	if c.Type == match.Red {
		typ = remote.EventRedCard
	}
	return remote.MatchEvent{
		FixtureID:  fixtureID,
		EventType:  typ,
		TeamID:     c.TeamID,
		PlayerID:   c.PlayerID,
		PlayerName: c.PlayerName,
		EventTime:  EventMinute(c.Time),
	}
}
