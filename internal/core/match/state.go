// Package match holds the optimistic, in-memory view of one fixture being
// officiated.
//
// A State is not safe for concurrent use. Its owner (an officiating
// session) confines every call to a single goroutine.
package match

import (
	"time"

	"github.com/google/uuid"
)

// State is the local system of record for one fixture. HomeScore and
// AwayScore are derived from Goals after every goal mutation and are never
// written independently.
type State struct {
	FixtureID   string            `json:"fixture_id"`
	Home        Team              `json:"home"`
	Away        Team              `json:"away"`
	HomeScore   int               `json:"home_score"`
	AwayScore   int               `json:"away_score"`
	Goals       []GoalEntry       `json:"goals"`
	Cards       []CardEntry       `json:"cards"`
	PlayerTimes []PlayerTimeEntry `json:"player_times"`
	Events      []Event           `json:"events"`
	LastSaved   *time.Time        `json:"last_saved,omitempty"`

	// Removed lists saved goals and cards deleted locally since; their
	// rows are removed by the next save.
	Removed []Removal `json:"removed,omitempty"`

	rev   uint64
	epoch uint64
}

func New(fixtureID string, home, away Team) *State {
	return &State{FixtureID: fixtureID, Home: home, Away: away}
}

func (s *State) nextRev() uint64 {
	s.rev++
	return s.rev
}

func (s *State) team(side Side) Team {
	if side == Away {
		return s.Away
	}
	return s.Home
}

// ── Validation ──────────────────────────────────────────────

func validateSide(side Side) error {
	if side == "" {
		return ErrMissingTeam
	}
	if !side.Valid() {
		return ErrInvalidTeam
	}
	return nil
}

func ValidateGoal(in GoalInput) error {
	if err := validateSide(in.Team); err != nil {
		return err
	}
	if in.Type != "" && in.Type != GoalTypeGoal && in.Type != GoalTypeAssist {
		return ErrInvalidGoalType
	}
	if in.Time < 0 {
		return ErrInvalidTime
	}
	return nil
}

func ValidateCard(in CardInput) error {
	if err := validateSide(in.Team); err != nil {
		return err
	}
	if in.PlayerID == "" {
		return ErrMissingPlayer
	}
	if in.Type != Yellow && in.Type != Red {
		return ErrInvalidCardType
	}
	if in.Time < 0 {
		return ErrInvalidTime
	}
	return nil
}

func ValidatePlayer(in PlayerInput) error {
	if err := validateSide(in.Team); err != nil {
		return err
	}
	if in.PlayerID == "" {
		return ErrMissingPlayer
	}
	return nil
}

// ── Goals ───────────────────────────────────────────────────

// AddGoal appends an unsynced goal and rederives the score. Only
// validation can fail; the mutation itself cannot.
func (s *State) AddGoal(in GoalInput) (GoalEntry, error) {
	if err := ValidateGoal(in); err != nil {
		return GoalEntry{}, err
	}
	if in.Type == "" {
		in.Type = GoalTypeGoal
	}
	t := s.team(in.Team)
	g := GoalEntry{
		ID:         uuid.NewString(),
		PlayerID:   in.PlayerID,
		PlayerName: in.PlayerName,
		Team:       in.Team,
		TeamID:     t.ID,
		TeamName:   t.Name,
		Type:       in.Type,
		Time:       in.Time,
		IsOwnGoal:  in.IsOwnGoal,
		Rev:        s.nextRev(),
	}
	s.Goals = append(s.Goals, g)
	s.rescore()
	return g, nil
}

// UpdateGoal merges patch into the goal with id. Any edit marks it
// unsynced. Returns false when no goal has that id.
func (s *State) UpdateGoal(id string, patch GoalPatch) (GoalEntry, bool) {
	i := s.goalIndex(id)
	if i < 0 {
		return GoalEntry{}, false
	}
	g := &s.Goals[i]
	if patch.PlayerID != nil {
		g.PlayerID = *patch.PlayerID
	}
	if patch.PlayerName != nil {
		g.PlayerName = *patch.PlayerName
	}
	if patch.IsOwnGoal != nil {
		g.IsOwnGoal = *patch.IsOwnGoal
	}
	g.Synced = false
	g.Rev = s.nextRev()
	s.rescore()
	return *g, true
}

// RemoveGoal deletes the goal with id. A goal that was already saved
// leaves a Removal behind. Unknown ids are a no-op.
func (s *State) RemoveGoal(id string) (GoalEntry, bool) {
	i := s.goalIndex(id)
	if i < 0 {
		return GoalEntry{}, false
	}
	g := s.Goals[i]
	s.Goals = append(s.Goals[:i], s.Goals[i+1:]...)
	s.remember(KindGoal, g.ID, g.RemoteID)
	s.rescore()
	return g, true
}

// HasGoal reports whether a goal with the same side and player name is
// already recorded in the same match minute, the granularity of the
// remote event log.
func (s *State) HasGoal(side Side, playerName string, timeSec int) bool {
	return s.GoalConflict("", side, playerName, timeSec)
}

// GoalConflict is HasGoal ignoring the goal with id exceptID.
func (s *State) GoalConflict(exceptID string, side Side, playerName string, timeSec int) bool {
	minute := Minute(timeSec)
	for _, g := range s.Goals {
		if g.ID == exceptID || !g.counts() {
			continue
		}
		if g.Team == side && g.PlayerName == playerName && Minute(g.Time) == minute {
			return true
		}
	}
	return false
}

// Goal returns a copy of the goal with id.
func (s *State) Goal(id string) (GoalEntry, bool) {
	i := s.goalIndex(id)
	if i < 0 {
		return GoalEntry{}, false
	}
	return s.Goals[i], true
}

func (s *State) goalIndex(id string) int {
	for i := range s.Goals {
		if s.Goals[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *State) rescore() {
	home, away := 0, 0
	for _, g := range s.Goals {
		if !g.counts() {
			continue
		}
		switch g.ScoringSide() {
		case Home:
			home++
		case Away:
			away++
		}
	}
	s.HomeScore, s.AwayScore = home, away
}

// ── Cards ───────────────────────────────────────────────────

// AddCard appends the card. A player's second yellow also appends a red in
// the same call. Returns the entries created.
func (s *State) AddCard(in CardInput) ([]CardEntry, error) {
	if err := ValidateCard(in); err != nil {
		return nil, err
	}
	priorYellows := 0
	if in.Type == Yellow {
		for _, c := range s.Cards {
			if c.PlayerID == in.PlayerID && c.Type == Yellow {
				priorYellows++
			}
		}
	}

	t := s.team(in.Team)
	card := CardEntry{
		ID:         uuid.NewString(),
		PlayerID:   in.PlayerID,
		PlayerName: in.PlayerName,
		Team:       in.Team,
		TeamID:     t.ID,
		TeamName:   t.Name,
		Type:       in.Type,
		Time:       in.Time,
		Rev:        s.nextRev(),
	}
	created := []CardEntry{card}
	if priorYellows == 1 {
		red := card
		red.ID = uuid.NewString()
		red.Type = Red
		red.SecondYellow = true
		red.Rev = s.nextRev()
		created = append(created, red)
	}
	s.Cards = append(s.Cards, created...)
	return created, nil
}

// RemoveCard deletes the card with id and returns every card removed.
// Withdrawing one of a player's two yellows also withdraws the red it
// produced. Unknown ids are a no-op.
func (s *State) RemoveCard(id string) ([]CardEntry, bool) {
	i := s.cardIndex(id)
	if i < 0 {
		return nil, false
	}
	c := s.Cards[i]
	removed := []CardEntry{c}
	s.dropCard(i)
	if c.Type == Yellow {
		for j := range s.Cards {
			if s.Cards[j].PlayerID == c.PlayerID && s.Cards[j].SecondYellow {
				removed = append(removed, s.Cards[j])
				s.dropCard(j)
				break
			}
		}
	}
	return removed, true
}

func (s *State) dropCard(i int) {
	c := s.Cards[i]
	s.Cards = append(s.Cards[:i], s.Cards[i+1:]...)
	s.remember(KindCard, c.ID, c.RemoteID)
}

func (s *State) cardIndex(id string) int {
	for i := range s.Cards {
		if s.Cards[i].ID == id {
			return i
		}
	}
	return -1
}

// remember queues the remote row of a removed entry for deletion.
func (s *State) remember(kind EntryKind, id, remoteID string) {
	if remoteID == "" {
		return
	}
	s.Removed = append(s.Removed, Removal{Kind: kind, ID: id, RemoteID: remoteID})
}

// ── Player time ─────────────────────────────────────────────

// AddPlayerTime starts tracking a player in the stopped state. Adding a
// tracked player returns the existing entry unchanged.
func (s *State) AddPlayerTime(in PlayerInput) (PlayerTimeEntry, error) {
	if err := ValidatePlayer(in); err != nil {
		return PlayerTimeEntry{}, err
	}
	if p := s.PlayerTime(in.PlayerID); p != nil {
		return *p, nil
	}
	t := s.team(in.Team)
	p := PlayerTimeEntry{
		ID:         uuid.NewString(),
		PlayerID:   in.PlayerID,
		PlayerName: in.PlayerName,
		Team:       in.Team,
		TeamID:     t.ID,
		TeamName:   t.Name,
		Periods:    []Period{},
		Rev:        s.nextRev(),
	}
	s.PlayerTimes = append(s.PlayerTimes, p)
	return p, nil
}

// UpdatePlayerTime patches identity fields of a tracked player.
func (s *State) UpdatePlayerTime(playerID string, patch PlayerPatch) (PlayerTimeEntry, bool) {
	p := s.PlayerTime(playerID)
	if p == nil {
		return PlayerTimeEntry{}, false
	}
	if patch.PlayerName != nil {
		p.PlayerName = *patch.PlayerName
	}
	if patch.Team != nil && patch.Team.Valid() {
		t := s.team(*patch.Team)
		p.Team, p.TeamID, p.TeamName = *patch.Team, t.ID, t.Name
	}
	p.Synced = false
	p.Rev = s.nextRev()
	return *p, true
}

// TogglePlayerTime flips a player between stopped and playing at now.
// Stopping closes the open period and commits it into TotalTime.
func (s *State) TogglePlayerTime(playerID string, now time.Time) (PlayerTimeEntry, bool) {
	p := s.PlayerTime(playerID)
	if p == nil {
		return PlayerTimeEntry{}, false
	}
	if p.IsPlaying {
		start := now
		if p.StartTime != nil {
			start = *p.StartTime
		}
		p.Periods = append(p.Periods, Period{Start: start, End: now, Duration: p.ElapsedAt(now)})
		p.IsPlaying = false
		p.StartTime = nil
		p.TotalTime = p.ClosedSeconds()
	} else {
		started := now
		p.StartTime = &started
		p.IsPlaying = true
		p.TotalTime = p.ClosedSeconds()
	}
	p.Synced = false
	p.Rev = s.nextRev()
	return *p, true
}

// TouchPlayerTime marks a player's entry unsynced without editing it, for
// time that accrued while the player stayed on the pitch.
func (s *State) TouchPlayerTime(playerID string) (PlayerTimeEntry, bool) {
	p := s.PlayerTime(playerID)
	if p == nil {
		return PlayerTimeEntry{}, false
	}
	p.Synced = false
	p.Rev = s.nextRev()
	return *p, true
}

// RemovePlayerTime stops tracking a player, discarding any open period.
func (s *State) RemovePlayerTime(playerID string) (PlayerTimeEntry, bool) {
	for i, p := range s.PlayerTimes {
		if p.PlayerID == playerID {
			s.PlayerTimes = append(s.PlayerTimes[:i], s.PlayerTimes[i+1:]...)
			return p, true
		}
	}
	return PlayerTimeEntry{}, false
}

// PlayerTime returns a pointer into the state for loop-confined callers
// such as the timer engine.
func (s *State) PlayerTime(playerID string) *PlayerTimeEntry {
	for i := range s.PlayerTimes {
		if s.PlayerTimes[i].PlayerID == playerID {
			return &s.PlayerTimes[i]
		}
	}
	return nil
}

func (s *State) ActivePlayersCount() int {
	n := 0
	for _, p := range s.PlayerTimes {
		if p.IsPlaying {
			n++
		}
	}
	return n
}

// ── Audit log ───────────────────────────────────────────────

func (s *State) AddEvent(kind, description string, timeSec int, now time.Time) Event {
	e := Event{
		ID:          uuid.NewString(),
		Type:        kind,
		Description: description,
		Time:        timeSec,
		CreatedAt:   now,
	}
	s.Events = append(s.Events, e)
	return e
}

// ── Sync bookkeeping ────────────────────────────────────────

func (s *State) UnsavedItemsCount() UnsavedCounts {
	var c UnsavedCounts
	for _, g := range s.Goals {
		if !g.Synced {
			c.Goals++
		}
	}
	for _, cd := range s.Cards {
		if !cd.Synced {
			c.Cards++
		}
	}
	for _, p := range s.PlayerTimes {
		if !p.Synced {
			c.PlayerTimes++
		}
	}
	c.Removals = len(s.Removed)
	c.Total = c.Goals + c.Cards + c.PlayerTimes + c.Removals
	return c
}

func (s *State) HasUnsavedChanges() bool {
	return s.UnsavedItemsCount().Total > 0
}

// ConfirmGoals records the remote row of every acknowledged goal and marks
// it synced when its revision still matches. Goals edited since the
// snapshot stay pending; goals removed since then become Removals so the
// row just written is deleted by the next save.
func (s *State) ConfirmGoals(acks map[string]Ack) int {
	n := 0
	for id, ack := range acks {
		i := s.goalIndex(id)
		if i < 0 {
			s.rememberLate(KindGoal, id, ack.RemoteID)
			continue
		}
		g := &s.Goals[i]
		if ack.RemoteID != "" {
			g.RemoteID = ack.RemoteID
		}
		if ack.Rev == g.Rev {
			g.Synced = true
			n++
		}
	}
	return n
}

func (s *State) ConfirmCards(acks map[string]Ack) int {
	n := 0
	for id, ack := range acks {
		i := s.cardIndex(id)
		if i < 0 {
			s.rememberLate(KindCard, id, ack.RemoteID)
			continue
		}
		c := &s.Cards[i]
		if ack.RemoteID != "" {
			c.RemoteID = ack.RemoteID
		}
		if ack.Rev == c.Rev {
			c.Synced = true
			n++
		}
	}
	return n
}

// rememberLate handles an acknowledgement for an entry removed while its
// write was in flight.
func (s *State) rememberLate(kind EntryKind, id, remoteID string) {
	if remoteID == "" {
		return
	}
	for i := range s.Removed {
		if s.Removed[i].ID == id {
			s.Removed[i].RemoteID = remoteID
			return
		}
	}
	s.remember(kind, id, remoteID)
}

// ForgetRemoval drops the Removal for id once its row is gone. A Removal
// whose RemoteID changed in the meantime is kept.
func (s *State) ForgetRemoval(id, remoteID string) bool {
	for i, r := range s.Removed {
		if r.ID == id && r.RemoteID == remoteID {
			s.Removed = append(s.Removed[:i], s.Removed[i+1:]...)
			return true
		}
	}
	return false
}

// Epoch changes on every Reset, so confirmations captured before a reset
// can be recognised and dropped.
func (s *State) Epoch() uint64 { return s.epoch }

// ConfirmPlayerTimes is keyed by player id.
func (s *State) ConfirmPlayerTimes(revs map[string]uint64) int {
	n := 0
	for i := range s.PlayerTimes {
		if rev, ok := revs[s.PlayerTimes[i].PlayerID]; ok && rev == s.PlayerTimes[i].Rev {
			s.PlayerTimes[i].Synced = true
			n++
		}
	}
	return n
}

// MarkAsSaved marks every entry synced and stamps LastSaved. Call it only
// after the remote store acknowledged a complete flush. Pending Removals
// are left alone; only a confirmed delete clears them.
func (s *State) MarkAsSaved(now time.Time) {
	for i := range s.Goals {
		s.Goals[i].Synced = true
	}
	for i := range s.Cards {
		s.Cards[i].Synced = true
	}
	for i := range s.PlayerTimes {
		s.PlayerTimes[i].Synced = true
	}
	saved := now
	s.LastSaved = &saved
}

// Reset clears everything except the revision counter, which keeps
// counting so stale confirmations can never match a new entry.
func (s *State) Reset(fixtureID string, home, away Team) {
	rev, epoch := s.rev, s.epoch
	*s = State{FixtureID: fixtureID, Home: home, Away: away, rev: rev, epoch: epoch + 1}
}

// SetTeams fills team identity on the state and on every entry.
func (s *State) SetTeams(home, away Team) {
	s.Home, s.Away = home, away
	for i := range s.Goals {
		t := s.team(s.Goals[i].Team)
		s.Goals[i].TeamID, s.Goals[i].TeamName = t.ID, t.Name
	}
	for i := range s.Cards {
		t := s.team(s.Cards[i].Team)
		s.Cards[i].TeamID, s.Cards[i].TeamName = t.ID, t.Name
	}
	for i := range s.PlayerTimes {
		t := s.team(s.PlayerTimes[i].Team)
		s.PlayerTimes[i].TeamID, s.PlayerTimes[i].TeamName = t.ID, t.Name
	}
}

// Snapshot returns a deep copy safe to hand to other goroutines.
func (s *State) Snapshot() State {
	cp := *s
	cp.Goals = append([]GoalEntry(nil), s.Goals...)
	cp.Cards = append([]CardEntry(nil), s.Cards...)
	cp.Events = append([]Event(nil), s.Events...)
	cp.Removed = append([]Removal(nil), s.Removed...)
	cp.PlayerTimes = make([]PlayerTimeEntry, len(s.PlayerTimes))
	for i, p := range s.PlayerTimes {
		p.Periods = append([]Period(nil), p.Periods...)
		if p.StartTime != nil {
			st := *p.StartTime
			p.StartTime = &st
		}
		cp.PlayerTimes[i] = p
	}
	if s.LastSaved != nil {
		ls := *s.LastSaved
		cp.LastSaved = &ls
	}
	return cp
}
