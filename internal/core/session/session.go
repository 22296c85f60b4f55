// Package session runs one officiating session: the local match state for a
// fixture, its playing-time clock and its background sync pipeline.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/charleschow/matchday/internal/clock"
	"github.com/charleschow/matchday/internal/config"
	"github.com/charleschow/matchday/internal/core/dedup"
	"github.com/charleschow/matchday/internal/core/match"
	"github.com/charleschow/matchday/internal/core/syncmgr"
	"github.com/charleschow/matchday/internal/core/syncpolicy"
	"github.com/charleschow/matchday/internal/core/teams"
	"github.com/charleschow/matchday/internal/core/timer"
	"github.com/charleschow/matchday/internal/events"
	"github.com/charleschow/matchday/internal/remote"
	"github.com/charleschow/matchday/internal/telemetry"
)

var (
	ErrClosed        = errors.New("session: closed")
	ErrNotFound      = errors.New("session: no such entry")
	ErrUnknownTeam   = errors.New("session: team not recognised")
	ErrAmbiguousTeam = errors.New("session: team reference matches both sides")
)

const defaultInboxSize = 256

type Options struct {
	Profile   config.SyncProfile
	Clock     clock.Clock
	Store     remote.PlayerTimeStore
	Bus       *events.Bus
	InboxSize int
}

// Session is the single owner of a fixture's match.State.
//
// Every read or write of the state runs as a closure on the session's own
// goroutine, so the state needs no locks. Remote I/O never runs there:
// callers snapshot through Do, write on their own goroutine, then post the
// confirmation back.
type Session struct {
	fixtureID string
	clock     clock.Clock
	bus       *events.Bus
	tickEvery time.Duration

	state    *match.State
	engine   *timer.Engine
	resolver *teams.Resolver
	policy   *syncpolicy.Policy
	sync     *syncmgr.Manager

	inbox chan func()
	stop  chan struct{}

	mu     sync.RWMutex
	closed bool
	tick   clock.Timer
}

// Open starts the session goroutine and its tick loop.
func Open(fixtureID string, home, away match.Team, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = defaultInboxSize
	}
	p := opts.Profile

	s := &Session{
		fixtureID: fixtureID,
		clock:     opts.Clock,
		bus:       opts.Bus,
		tickEvery: p.TickInterval,
		state:     match.New(fixtureID, home, away),
		engine:    timer.New(p.AutoSaveAfter),
		resolver:  teams.NewResolver(home, away),
		policy: syncpolicy.New(syncpolicy.Config{
			MinTimeBetweenSyncs:    p.MinTimeBetweenSyncs,
			MaxPendingChanges:      p.MaxPendingChanges,
			ActivePlayersThreshold: p.ActivePlayersThreshold,
		}, opts.Clock),
		sync: syncmgr.New(syncmgr.Config{
			DebounceInterval: p.DebounceInterval,
			MaxSyncInterval:  p.MaxSyncInterval,
		}, opts.Clock, opts.Store),
		inbox: make(chan func(), opts.InboxSize),
		stop:  make(chan struct{}),
	}

	switch {
	case p.ManualSyncOnly:
		s.policy.SetManualSyncOnly(true)
	case !p.AutoSyncEnabled:
		s.policy.SetAutoSyncEnabled(false)
	}
	s.sync.SetAutoSync(s.autoMode())
	s.sync.OnResult(s.onSyncResult)

	go s.run()
	if s.tickEvery > 0 {
		s.mu.Lock()
		s.tick = s.clock.AfterFunc(s.tickEvery, s.onTick)
		s.mu.Unlock()
	}

	s.publish(events.EventSessionOpened, events.SessionStatus{Open: true, HomeTeam: home.Name, AwayTeam: away.Name})
	telemetry.Infof("session: opened fixture %s (%s vs %s)", fixtureID, home.Name, away.Name)
	return s
}

func (s *Session) FixtureID() string { return s.fixtureID }

// run drains the inbox. All closures execute here, one at a time.
func (s *Session) run() {
	defer close(s.stop)
	for fn := range s.inbox {
		fn()
	}
}

// Send enqueues fn without blocking. A full inbox drops fn and counts an
// overflow; a closed session drops it silently.
func (s *Session) Send(fn func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.inbox <- fn:
		return true
	default:
		telemetry.Metrics.InboxOverflows.Inc()
		telemetry.Warnf("session %s: inbox full (cap=%d), dropping closure", s.fixtureID, cap(s.inbox))
		return false
	}
}

// Do runs fn on the session goroutine and waits for it. Never call Do from
// inside another closure.
func (s *Session) Do(fn func()) error {
	done := make(chan struct{})
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.inbox <- func() {
		defer close(done)
		fn()
	}
	s.mu.RUnlock()
	<-done
	return nil
}

// WithState runs fn against the live state on the session goroutine. fn
// must not retain the pointer.
func (s *Session) WithState(fn func(st *match.State)) error {
	return s.Do(func() { fn(s.state) })
}

// Now is the session clock.
func (s *Session) Now() time.Time { return s.clock.Now() }

// Close stops the tick loop and the sync timers and waits for queued
// closures to drain. Pending mutations are not written; force a sync first.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.tick != nil {
		s.tick.Stop()
		s.tick = nil
	}
	close(s.inbox)
	s.mu.Unlock()

	<-s.stop
	s.sync.SetAutoSync(false)
	s.publish(events.EventSessionClosed, events.SessionStatus{Open: false})
	telemetry.Infof("session: closed fixture %s", s.fixtureID)
}

func (s *Session) publish(typ events.EventType, payload any) {
	s.bus.Publish(events.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		FixtureID: s.fixtureID,
		Timestamp: s.clock.Now(),
		Payload:   payload,
	})
}

// ── Goals ───────────────────────────────────────────────────

// AddGoal records a detailed goal. A goal with the same side and player in
// the same minute already on the sheet is rejected.
func (s *Session) AddGoal(in match.GoalInput) (match.GoalEntry, error) {
	var (
		g   match.GoalEntry
		err error
	)
	if derr := s.Do(func() { g, err = s.addGoal(in) }); derr != nil {
		return match.GoalEntry{}, derr
	}
	return g, err
}

func (s *Session) addGoal(in match.GoalInput) (match.GoalEntry, error) {
	if err := match.ValidateGoal(in); err != nil {
		return match.GoalEntry{}, err
	}
	if (in.Type == "" || in.Type == match.GoalTypeGoal) && s.state.HasGoal(in.Team, in.PlayerName, in.Time) {
		telemetry.Metrics.DuplicatesBlocked.Inc()
		return match.GoalEntry{}, fmt.Errorf("goal for %s at minute %d: %w", in.Team, match.Minute(in.Time), dedup.ErrDuplicateEvent)
	}
	g, err := s.state.AddGoal(in)
	if err != nil {
		return match.GoalEntry{}, err
	}
	telemetry.Metrics.GoalsRecorded.Inc()
	telemetry.Debugf("session %s: goal %s side=%s t=%ds score %d-%d",
		s.fixtureID, g.ID, g.Team, g.Time, s.state.HomeScore, s.state.AwayScore)
	s.publish(events.EventGoalRecorded, events.GoalRecorded{
		GoalID:     g.ID,
		Side:       string(g.Team),
		PlayerID:   g.PlayerID,
		PlayerName: g.PlayerName,
		Type:       string(g.Type),
		Time:       g.Time,
		OwnGoal:    g.IsOwnGoal,
		HomeScore:  s.state.HomeScore,
		AwayScore:  s.state.AwayScore,
	})
	return g, nil
}

// QuickGoal records a goal with no player yet. teamRef is a side keyword,
// a team id or a team name; anything that does not resolve to exactly one
// side is rejected.
func (s *Session) QuickGoal(teamRef string, timeSec int) (match.GoalEntry, error) {
	var (
		g   match.GoalEntry
		err error
	)
	derr := s.Do(func() {
		res := s.resolver.Resolve(teamRef)
		switch res.Kind {
		case teams.Ambiguous:
			err = fmt.Errorf("%q: %w", teamRef, ErrAmbiguousTeam)
			return
		case teams.NotFound:
			err = fmt.Errorf("%q: %w", teamRef, ErrUnknownTeam)
			return
		}
		g, err = s.addGoal(match.GoalInput{Team: res.Side, Type: match.GoalTypeGoal, Time: timeSec})
	})
	if derr != nil {
		return match.GoalEntry{}, derr
	}
	return g, err
}

// UpdateGoal attaches player identity or corrects the own-goal flag. A
// name that would make the goal identical to another one in the same
// minute is rejected.
func (s *Session) UpdateGoal(id string, patch match.GoalPatch) (match.GoalEntry, error) {
	var (
		g   match.GoalEntry
		ok  bool
		err error
	)
	if derr := s.Do(func() {
		cur, found := s.state.Goal(id)
		if !found {
			return
		}
		if patch.PlayerName != nil && cur.Type == match.GoalTypeGoal &&
			s.state.GoalConflict(id, cur.Team, *patch.PlayerName, cur.Time) {
			telemetry.Metrics.DuplicatesBlocked.Inc()
			err = fmt.Errorf("goal for %s at minute %d: %w", cur.Team, match.Minute(cur.Time), dedup.ErrDuplicateEvent)
			return
		}
		g, ok = s.state.UpdateGoal(id, patch)
	}); derr != nil {
		return match.GoalEntry{}, derr
	}
	if err != nil {
		return match.GoalEntry{}, err
	}
	if !ok {
		return match.GoalEntry{}, fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	return g, nil
}

func (s *Session) RemoveGoal(id string) error {
	var (
		ok         bool
		home, away int
	)
	if err := s.Do(func() {
		_, ok = s.state.RemoveGoal(id)
		home, away = s.state.HomeScore, s.state.AwayScore
	}); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	s.publish(events.EventGoalRemoved, events.GoalRemoved{GoalID: id, HomeScore: home, AwayScore: away})
	return nil
}

// ── Cards ───────────────────────────────────────────────────

func (s *Session) AddCard(in match.CardInput) ([]match.CardEntry, error) {
	var (
		created []match.CardEntry
		err     error
	)
	if derr := s.Do(func() { created, err = s.state.AddCard(in) }); derr != nil {
		return nil, derr
	}
	if err != nil {
		return nil, err
	}
	for _, c := range created {
		telemetry.Metrics.CardsIssued.Inc()
		s.publish(events.EventCardIssued, events.CardIssued{
			CardID:       c.ID,
			Side:         string(c.Team),
			PlayerID:     c.PlayerID,
			PlayerName:   c.PlayerName,
			CardType:     string(c.Type),
			Time:         c.Time,
			SecondYellow: c.SecondYellow,
		})
	}
	return created, nil
}

// RemoveCard withdraws a card. Withdrawing either yellow of a sending-off
// also withdraws the red; the removed cards are returned.
func (s *Session) RemoveCard(id string) ([]match.CardEntry, error) {
	var (
		removed []match.CardEntry
		ok      bool
	)
	if err := s.Do(func() { removed, ok = s.state.RemoveCard(id) }); err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	return removed, nil
}

// ── Players ─────────────────────────────────────────────────

func (s *Session) AddPlayer(in match.PlayerInput) (match.PlayerTimeEntry, error) {
	var (
		p   match.PlayerTimeEntry
		err error
	)
	if derr := s.Do(func() { p, err = s.state.AddPlayerTime(in) }); derr != nil {
		return match.PlayerTimeEntry{}, derr
	}
	return p, err
}

func (s *Session) UpdatePlayer(playerID string, patch match.PlayerPatch) (match.PlayerTimeEntry, error) {
	var (
		p  match.PlayerTimeEntry
		ok bool
	)
	if err := s.Do(func() {
		if p, ok = s.state.UpdatePlayerTime(playerID, patch); ok {
			s.queuePlayerTime(p)
		}
	}); err != nil {
		return match.PlayerTimeEntry{}, err
	}
	if !ok {
		return match.PlayerTimeEntry{}, fmt.Errorf("player %s: %w", playerID, ErrNotFound)
	}
	return p, nil
}

// TogglePlayer puts a player on or takes them off the pitch now.
func (s *Session) TogglePlayer(playerID string) (match.PlayerTimeEntry, error) {
	var (
		p  match.PlayerTimeEntry
		ok bool
	)
	if err := s.Do(func() {
		if p, ok = s.state.TogglePlayerTime(playerID, s.clock.Now()); ok {
			s.queuePlayerTime(p)
		}
	}); err != nil {
		return match.PlayerTimeEntry{}, err
	}
	if !ok {
		return match.PlayerTimeEntry{}, fmt.Errorf("player %s: %w", playerID, ErrNotFound)
	}
	telemetry.Metrics.PlayerToggles.Inc()
	s.publish(events.EventPlayerToggled, events.PlayerToggled{
		PlayerID:     p.PlayerID,
		PlayerName:   p.PlayerName,
		Side:         string(p.Team),
		IsPlaying:    p.IsPlaying,
		TotalSeconds: p.TotalTime,
	})
	return p, nil
}

// ResumePlayer continues a player's clock elapsedSec into an open period,
// for a device that reconnects mid-period.
func (s *Session) ResumePlayer(playerID string, elapsedSec int) (match.PlayerTimeEntry, error) {
	var (
		p  match.PlayerTimeEntry
		ok bool
	)
	if err := s.Do(func() {
		if !s.engine.Resume(s.state, playerID, elapsedSec, s.clock.Now()) {
			return
		}
		if p, ok = s.state.TouchPlayerTime(playerID); ok {
			s.queuePlayerTime(p)
		}
	}); err != nil {
		return match.PlayerTimeEntry{}, err
	}
	if !ok {
		return match.PlayerTimeEntry{}, fmt.Errorf("player %s: %w", playerID, ErrNotFound)
	}
	return p, nil
}

func (s *Session) RemovePlayer(playerID string) error {
	var ok bool
	if err := s.Do(func() {
		if _, ok = s.state.RemovePlayerTime(playerID); ok {
			s.engine.Forget(playerID)
		}
	}); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("player %s: %w", playerID, ErrNotFound)
	}
	return nil
}

// queuePlayerTime hands the entry to the Sync Manager. The policy decides
// whether this mutation may start a sync window or just waits in the queue.
// Runs on the session goroutine.
func (s *Session) queuePlayerTime(p match.PlayerTimeEntry) {
	now := s.clock.Now()
	mut := syncmgr.FromEntry(s.fixtureID, p, now)
	pending := s.sync.PendingCount(s.fixtureID)
	if !s.sync.IsPending(s.fixtureID, p.PlayerID) {
		pending++
	}
	if s.policy.ShouldAutoSync(s.state.ActivePlayersCount(), pending) {
		s.sync.ScheduleSync(s.fixtureID, mut)
	} else {
		s.sync.Queue(s.fixtureID, mut)
	}
	s.engine.Checkpoint(p.PlayerID, mut.TotalSeconds)
}

// ── Timer ───────────────────────────────────────────────────

func (s *Session) onTick() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.tick = s.clock.AfterFunc(s.tickEvery, s.onTick)
	s.mu.Unlock()
	s.Send(s.runTick)
}

// runTick refreshes playing time, queues players past the auto-save
// threshold and restarts a sync window the policy now allows.
func (s *Session) runTick() {
	for _, id := range s.engine.Tick(s.state, s.clock.Now()) {
		p, ok := s.state.TouchPlayerTime(id)
		if !ok {
			continue
		}
		telemetry.Debugf("session %s: auto-save checkpoint for %s at %ds", s.fixtureID, id, p.TotalTime)
		s.queuePlayerTime(p)
	}
	pending := s.sync.PendingCount(s.fixtureID)
	if pending > 0 && s.policy.ShouldAutoSync(s.state.ActivePlayersCount(), pending) {
		s.sync.Kick(s.fixtureID)
	}
}

// Visible resynchronises every running clock at once, for a device that
// was backgrounded and missed ticks.
func (s *Session) Visible() error {
	return s.Do(s.runTick)
}

// ── Sync ────────────────────────────────────────────────────

func (s *Session) autoMode() bool {
	st := s.policy.Settings()
	return st.AutoSyncEnabled && !st.ManualSyncOnly
}

func (s *Session) onSyncResult(r syncmgr.Result) {
	if r.Err != nil {
		s.publish(events.EventSyncFailed, events.SyncResult{
			Pending:    r.Pending,
			DurationMs: r.Duration.Milliseconds(),
			Error:      r.Err.Error(),
		})
		return
	}
	if len(r.Written) > 0 {
		s.policy.MarkSyncCompleted()
		revs := make(map[string]uint64, len(r.Written))
		for _, m := range r.Written {
			revs[m.PlayerID] = m.Rev
		}
		s.Send(func() { s.state.ConfirmPlayerTimes(revs) })
	}
	s.publish(events.EventSyncCompleted, events.SyncResult{
		Written:    len(r.Written),
		Pending:    r.Pending,
		DurationMs: r.Duration.Milliseconds(),
	})
}

// SyncStatus is the operator view: pipeline state, the policy switches and
// why a sync is or is not happening.
type SyncStatus struct {
	syncmgr.Status
	Settings       syncpolicy.Settings `json:"settings"`
	Recommendation string              `json:"recommendation"`
	Reason         syncpolicy.Reason   `json:"reason"`
}

func (s *Session) SyncStatus() (SyncStatus, error) {
	var active int
	if err := s.Do(func() { active = s.state.ActivePlayersCount() }); err != nil {
		return SyncStatus{}, err
	}
	st := s.sync.Status()
	d := s.policy.Evaluate(active, s.sync.PendingCount(s.fixtureID))
	return SyncStatus{
		Status:         st,
		Settings:       s.policy.Settings(),
		Recommendation: d.String(),
		Reason:         d.Reason,
	}, nil
}

func (s *Session) Recommendation() (string, error) {
	st, err := s.SyncStatus()
	if err != nil {
		return "", err
	}
	return st.Recommendation, nil
}

// SetSyncMode applies the two switches. Manual-only wins when both are set.
func (s *Session) SetSyncMode(mode syncpolicy.Settings) syncpolicy.Settings {
	if mode.ManualSyncOnly {
		s.policy.SetManualSyncOnly(true)
	} else {
		s.policy.SetManualSyncOnly(false)
		s.policy.SetAutoSyncEnabled(mode.AutoSyncEnabled)
	}
	s.sync.SetAutoSync(s.autoMode())
	if s.autoMode() {
		s.Send(s.runTick)
	}
	return s.policy.Settings()
}

// ForceSync brings every player on the pitch up to now and flushes the
// queue, regardless of the policy.
func (s *Session) ForceSync(ctx context.Context) error {
	if err := s.Do(s.queuePlaying); err != nil {
		return err
	}
	return s.sync.ForceSyncNow(ctx, s.fixtureID)
}

// queuePlaying queues the current time of every running clock without
// arming the timers. Runs on the session goroutine.
func (s *Session) queuePlaying() {
	now := s.clock.Now()
	for i := range s.state.PlayerTimes {
		if !s.state.PlayerTimes[i].IsPlaying {
			continue
		}
		id := s.state.PlayerTimes[i].PlayerID
		s.state.PlayerTimes[i].TotalTime = s.state.PlayerTimes[i].TotalAt(now)
		p, _ := s.state.TouchPlayerTime(id)
		mut := syncmgr.FromEntry(s.fixtureID, p, now)
		s.sync.Queue(s.fixtureID, mut)
		s.engine.Checkpoint(id, mut.TotalSeconds)
	}
}

func (s *Session) PendingSyncs() int { return s.sync.PendingCount(s.fixtureID) }

// ── Reads ───────────────────────────────────────────────────

func (s *Session) Snapshot() (match.State, error) {
	var st match.State
	err := s.Do(func() { st = s.state.Snapshot() })
	return st, err
}

func (s *Session) Unsaved() (match.UnsavedCounts, error) {
	var c match.UnsavedCounts
	err := s.Do(func() { c = s.state.UnsavedItemsCount() })
	return c, err
}

func (s *Session) AddEvent(kind, description string, timeSec int) (match.Event, error) {
	var e match.Event
	err := s.Do(func() { e = s.state.AddEvent(kind, description, timeSec, s.clock.Now()) })
	return e, err
}

// ── Lifecycle ───────────────────────────────────────────────

// Reset discards queued syncs and all local data and starts the sheet
// over, keeping the fixture. home and away replace the team identity.
func (s *Session) Reset(home, away match.Team) error {
	s.sync.ClearPendingChanges()
	err := s.Do(func() {
		s.state.Reset(s.fixtureID, home, away)
		s.engine.Reset()
		s.resolver = teams.NewResolver(home, away)
	})
	if err == nil {
		telemetry.Infof("session: fixture %s reset", s.fixtureID)
	}
	return err
}

// SetTeams fills in team identity once it is known, e.g. after the fixture
// was fetched from the remote store.
func (s *Session) SetTeams(home, away match.Team) error {
	return s.Do(func() {
		s.state.SetTeams(home, away)
		s.resolver = teams.NewResolver(home, away)
	})
}
