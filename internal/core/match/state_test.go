package match

import (
	"errors"
	"math/rand"
	"testing"
	"time"
)

var (
	homeTeam = Team{ID: "t-home", Name: "Hammarby IF"}
	awayTeam = Team{ID: "t-away", Name: "Malmö FF"}
	kickoff  = time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC)
)

func newState() *State { return New("fx-1", homeTeam, awayTeam) }

func countGoals(s *State, side Side) int {
	n := 0
	for _, g := range s.Goals {
		if g.Type == GoalTypeGoal && g.ScoringSide() == side {
			n++
		}
	}
	return n
}

func TestScoreInvariant_RandomAddRemove(t *testing.T) {
	s := newState()
	rng := rand.New(rand.NewSource(7))
	for step := 0; step < 500; step++ {
		if len(s.Goals) > 0 && rng.Intn(3) == 0 {
			id := s.Goals[rng.Intn(len(s.Goals))].ID
			if _, ok := s.RemoveGoal(id); !ok {
				t.Fatalf("step %d: remove of existing goal reported missing", step)
			}
		} else {
			side := Home
			if rng.Intn(2) == 0 {
				side = Away
			}
			typ := GoalTypeGoal
			if rng.Intn(4) == 0 {
				typ = GoalTypeAssist
			}
			if _, err := s.AddGoal(GoalInput{Team: side, Type: typ, Time: step, IsOwnGoal: rng.Intn(6) == 0}); err != nil {
				t.Fatalf("step %d: AddGoal: %v", step, err)
			}
		}
		if s.HomeScore != countGoals(s, Home) || s.AwayScore != countGoals(s, Away) {
			t.Fatalf("step %d: score %d-%d does not match goals %d-%d",
				step, s.HomeScore, s.AwayScore, countGoals(s, Home), countGoals(s, Away))
		}
		if s.HomeScore < 0 || s.AwayScore < 0 {
			t.Fatalf("step %d: negative score", step)
		}
	}
}

func TestAddGoal_FillsTeamIdentityAndDefaultsType(t *testing.T) {
	s := newState()
	g, err := s.AddGoal(GoalInput{Team: Away, Time: 61})
	if err != nil {
		t.Fatal(err)
	}
	assertEq(t, g.Type, GoalTypeGoal)
	assertEq(t, g.TeamID, "t-away")
	assertEq(t, g.TeamName, "Malmö FF")
	assertEq(t, g.Synced, false)
	assertEq(t, s.AwayScore, 1)
	assertEq(t, s.HasUnsavedChanges(), true)
}

func TestAddGoal_AssistDoesNotScore(t *testing.T) {
	s := newState()
	if _, err := s.AddGoal(GoalInput{Team: Home, Type: GoalTypeAssist, Time: 10}); err != nil {
		t.Fatal(err)
	}
	assertEq(t, s.HomeScore, 0)
}

func TestOwnGoalCreditsOpponentAndKeepsFlag(t *testing.T) {
	s := newState()
	g, err := s.AddGoal(GoalInput{Team: Home, PlayerID: "p-4", PlayerName: "Defender", Time: 300, IsOwnGoal: true})
	if err != nil {
		t.Fatal(err)
	}
	assertEq(t, s.HomeScore, 0)
	assertEq(t, s.AwayScore, 1)
	assertEq(t, g.IsOwnGoal, true)
	assertEq(t, g.Team, Home)

	no := false
	if _, ok := s.UpdateGoal(g.ID, GoalPatch{IsOwnGoal: &no}); !ok {
		t.Fatal("UpdateGoal missed existing goal")
	}
	assertEq(t, s.HomeScore, 1)
	assertEq(t, s.AwayScore, 0)
}

func TestAddGoal_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   GoalInput
		want error
	}{
		{"missing team", GoalInput{Time: 1}, ErrMissingTeam},
		{"bad team", GoalInput{Team: "middle", Time: 1}, ErrInvalidTeam},
		{"bad type", GoalInput{Team: Home, Type: "penalty"}, ErrInvalidGoalType},
		{"negative time", GoalInput{Team: Home, Time: -5}, ErrInvalidTime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newState()
			_, err := s.AddGoal(tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			assertEq(t, len(s.Goals), 0)
		})
	}
}

func TestUpdateGoal_UnknownIDIsDetectable(t *testing.T) {
	s := newState()
	g, _ := s.AddGoal(GoalInput{Team: Home, Time: 5})
	s.ConfirmGoals(map[string]Ack{g.ID: {Rev: g.Rev}})

	name := "Nobody"
	if _, ok := s.UpdateGoal("missing", GoalPatch{PlayerName: &name}); ok {
		t.Fatal("UpdateGoal on unknown id reported a match")
	}
	assertEq(t, s.Goals[0].PlayerName, "")
	assertEq(t, s.Goals[0].Synced, true)
}

func TestUpdateGoal_AttachesPlayerAndInvalidatesSync(t *testing.T) {
	s := newState()
	g, _ := s.AddGoal(GoalInput{Team: Home, Time: 5})
	s.MarkAsSaved(kickoff)

	id, name := "p-9", "Striker"
	updated, ok := s.UpdateGoal(g.ID, GoalPatch{PlayerID: &id, PlayerName: &name})
	if !ok {
		t.Fatal("UpdateGoal missed")
	}
	assertEq(t, updated.PlayerName, "Striker")
	assertEq(t, updated.Team, Home)
	assertEq(t, updated.Time, 5)
	assertEq(t, updated.Synced, false)
	if updated.Rev == g.Rev {
		t.Fatal("revision not bumped")
	}
}

func TestRemoveGoal_UnknownIsNoop(t *testing.T) {
	s := newState()
	s.AddGoal(GoalInput{Team: Away, Time: 5})
	if _, ok := s.RemoveGoal("nope"); ok {
		t.Fatal("remove of unknown id reported success")
	}
	assertEq(t, s.AwayScore, 1)
}

func TestSecondYellowEscalates(t *testing.T) {
	s := newState()
	first, err := s.AddCard(CardInput{PlayerID: "p-6", PlayerName: "Mid", Team: Away, Type: Yellow, Time: 600})
	if err != nil {
		t.Fatal(err)
	}
	assertEq(t, len(first), 1)

	second, err := s.AddCard(CardInput{PlayerID: "p-6", PlayerName: "Mid", Team: Away, Type: Yellow, Time: 2400})
	if err != nil {
		t.Fatal(err)
	}
	assertEq(t, len(second), 2)
	assertEq(t, second[0].Type, Yellow)
	assertEq(t, second[1].Type, Red)
	assertEq(t, second[1].SecondYellow, true)
	assertEq(t, second[1].Time, 2400)
	assertEq(t, len(s.Cards), 3)
}

func TestYellowsForDifferentPlayersDoNotEscalate(t *testing.T) {
	s := newState()
	s.AddCard(CardInput{PlayerID: "p-1", Team: Home, Type: Yellow, Time: 1})
	created, _ := s.AddCard(CardInput{PlayerID: "p-2", Team: Home, Type: Yellow, Time: 2})
	assertEq(t, len(created), 1)
}

func TestAddCard_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   CardInput
		want error
	}{
		{"missing player", CardInput{Team: Home, Type: Yellow}, ErrMissingPlayer},
		{"invalid type", CardInput{PlayerID: "p", Team: Home, Type: "blue"}, ErrInvalidCardType},
		{"missing team", CardInput{PlayerID: "p", Type: Red}, ErrMissingTeam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newState()
			if _, err := s.AddCard(tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			assertEq(t, len(s.Cards), 0)
		})
	}
}

func TestTogglePeriodClosure(t *testing.T) {
	s := newState()
	if _, err := s.AddPlayerTime(PlayerInput{PlayerID: "p-10", PlayerName: "Ten", Team: Home}); err != nil {
		t.Fatal(err)
	}

	now := kickoff
	s.TogglePlayerTime("p-10", now)
	now = now.Add(90 * time.Second)
	p, _ := s.TogglePlayerTime("p-10", now)
	assertEq(t, len(p.Periods), 1)
	assertEq(t, p.Periods[0].Duration, 90)
	assertEq(t, p.TotalTime, 90)
	assertEq(t, p.IsPlaying, false)

	s.TogglePlayerTime("p-10", now)
	now = now.Add(45 * time.Second)
	p, _ = s.TogglePlayerTime("p-10", now)
	assertEq(t, len(p.Periods), 2)
	assertEq(t, p.Periods[1].Duration, 45)
	assertEq(t, p.TotalTime, 135)
	if p.StartTime != nil {
		t.Fatal("stopped player kept a start time")
	}
}

func TestTotalAtIncludesOpenPeriod(t *testing.T) {
	s := newState()
	s.AddPlayerTime(PlayerInput{PlayerID: "p", Team: Away})
	s.TogglePlayerTime("p", kickoff)
	s.TogglePlayerTime("p", kickoff.Add(30*time.Second))
	s.TogglePlayerTime("p", kickoff.Add(60*time.Second))

	p := s.PlayerTime("p")
	assertEq(t, p.TotalAt(kickoff.Add(100*time.Second)), 70)
}

func TestAddPlayerTime_Idempotent(t *testing.T) {
	s := newState()
	a, _ := s.AddPlayerTime(PlayerInput{PlayerID: "p", PlayerName: "A", Team: Home})
	b, _ := s.AddPlayerTime(PlayerInput{PlayerID: "p", PlayerName: "B", Team: Away})
	assertEq(t, a.ID, b.ID)
	assertEq(t, len(s.PlayerTimes), 1)
	assertEq(t, s.PlayerTimes[0].PlayerName, "A")
}

func TestConfirmSkipsEntriesEditedSinceSnapshot(t *testing.T) {
	s := newState()
	g1, _ := s.AddGoal(GoalInput{Team: Home, Time: 1})
	g2, _ := s.AddGoal(GoalInput{Team: Away, Time: 2})
	acks := map[string]Ack{g1.ID: {Rev: g1.Rev}, g2.ID: {Rev: g2.Rev}}

	name := "Late Edit"
	s.UpdateGoal(g2.ID, GoalPatch{PlayerName: &name})

	assertEq(t, s.ConfirmGoals(acks), 1)
	assertEq(t, s.Goals[0].Synced, true)
	assertEq(t, s.Goals[1].Synced, false)
	assertEq(t, s.UnsavedItemsCount(), UnsavedCounts{Goals: 1, Total: 1})
}

func TestMarkAsSavedAndUnsavedCounts(t *testing.T) {
	s := newState()
	s.AddGoal(GoalInput{Team: Home, Time: 1})
	s.AddCard(CardInput{PlayerID: "p", Team: Home, Type: Red, Time: 2})
	s.AddPlayerTime(PlayerInput{PlayerID: "p", Team: Home})
	assertEq(t, s.UnsavedItemsCount(), UnsavedCounts{Goals: 1, Cards: 1, PlayerTimes: 1, Total: 3})

	s.MarkAsSaved(kickoff)
	assertEq(t, s.HasUnsavedChanges(), false)
	if s.LastSaved == nil || !s.LastSaved.Equal(kickoff) {
		t.Fatalf("LastSaved = %v", s.LastSaved)
	}
}

func TestAddEventIsNeverUnsaved(t *testing.T) {
	s := newState()
	s.AddEvent("note", "floodlight failure", 1800, kickoff)
	assertEq(t, len(s.Events), 1)
	assertEq(t, s.HasUnsavedChanges(), false)
}

func TestResetClearsEverything(t *testing.T) {
	s := newState()
	g, _ := s.AddGoal(GoalInput{Team: Home, Time: 1})
	s.AddPlayerTime(PlayerInput{PlayerID: "p", Team: Home})
	s.Reset("fx-2", Team{ID: "a"}, Team{ID: "b"})

	assertEq(t, s.FixtureID, "fx-2")
	assertEq(t, len(s.Goals), 0)
	assertEq(t, len(s.PlayerTimes), 0)
	assertEq(t, s.HomeScore, 0)

	g2, _ := s.AddGoal(GoalInput{Team: Home, Time: 1})
	if g2.Rev <= g.Rev {
		t.Fatal("revision counter restarted after reset")
	}
}

func TestSnapshotIsDeep(t *testing.T) {
	s := newState()
	s.AddPlayerTime(PlayerInput{PlayerID: "p", Team: Home})
	s.TogglePlayerTime("p", kickoff)
	snap := s.Snapshot()

	s.TogglePlayerTime("p", kickoff.Add(time.Minute))
	assertEq(t, snap.PlayerTimes[0].IsPlaying, true)
	assertEq(t, len(snap.PlayerTimes[0].Periods), 0)
}

func TestHasGoal(t *testing.T) {
	s := newState()
	s.AddGoal(GoalInput{Team: Home, PlayerName: "Nine", Time: 120})
	assertEq(t, s.HasGoal(Home, "Nine", 120), true)
	assertEq(t, s.HasGoal(Away, "Nine", 120), false)
	assertEq(t, s.HasGoal(Home, "Nine", 179), true)
	assertEq(t, s.HasGoal(Home, "Nine", 180), false)
	assertEq(t, s.HasGoal(Home, "", 120), false)
}

func TestMinute(t *testing.T) {
	tests := []struct {
		sec, want int
	}{
		{-5, 1}, {0, 1}, {59, 1}, {60, 2}, {125, 3}, {5399, 90},
	}
	for _, tt := range tests {
		assertEq(t, Minute(tt.sec), tt.want)
	}
}

func TestGoalConflictIgnoresItself(t *testing.T) {
	s := newState()
	a, _ := s.AddGoal(GoalInput{Team: Home, Time: 10})
	b, _ := s.AddGoal(GoalInput{Team: Home, PlayerName: "Ana", Time: 50})

	assertEq(t, s.GoalConflict(b.ID, Home, "Ana", 50), false)
	assertEq(t, s.GoalConflict(b.ID, Home, "", 50), true)
	assertEq(t, s.GoalConflict(a.ID, Home, "", 10), false)
}

func TestConfirmRecordsRemoteID(t *testing.T) {
	s := newState()
	g, _ := s.AddGoal(GoalInput{Team: Home, Time: 10})
	cards, _ := s.AddCard(CardInput{PlayerID: "p", Team: Away, Type: Yellow, Time: 20})

	name := "Ana"
	s.UpdateGoal(g.ID, GoalPatch{PlayerName: &name})
	assertEq(t, s.ConfirmGoals(map[string]Ack{g.ID: {Rev: g.Rev, RemoteID: "ev-1"}}), 0)
	assertEq(t, s.ConfirmCards(map[string]Ack{cards[0].ID: {Rev: cards[0].Rev, RemoteID: "ev-2"}}), 1)

	assertEq(t, s.Goals[0].RemoteID, "ev-1")
	assertEq(t, s.Goals[0].Synced, false)
	assertEq(t, s.Cards[0].RemoteID, "ev-2")
	assertEq(t, s.Cards[0].Synced, true)
}

func TestRemovingSavedEntriesLeavesRemovals(t *testing.T) {
	s := newState()
	saved, _ := s.AddGoal(GoalInput{Team: Home, Time: 10})
	local, _ := s.AddGoal(GoalInput{Team: Away, Time: 20})
	cards, _ := s.AddCard(CardInput{PlayerID: "p", Team: Away, Type: Red, Time: 30})
	s.ConfirmGoals(map[string]Ack{saved.ID: {Rev: saved.Rev, RemoteID: "ev-1"}})
	s.ConfirmCards(map[string]Ack{cards[0].ID: {Rev: cards[0].Rev, RemoteID: "ev-2"}})

	s.RemoveGoal(saved.ID)
	s.RemoveGoal(local.ID)
	s.RemoveCard(cards[0].ID)

	assertEq(t, len(s.Removed), 2)
	assertEq(t, s.Removed[0], Removal{Kind: KindGoal, ID: saved.ID, RemoteID: "ev-1"})
	assertEq(t, s.Removed[1], Removal{Kind: KindCard, ID: cards[0].ID, RemoteID: "ev-2"})
	assertEq(t, s.UnsavedItemsCount(), UnsavedCounts{Removals: 2, Total: 2})
	assertEq(t, s.HasUnsavedChanges(), true)

	assertEq(t, s.ForgetRemoval(saved.ID, "stale"), false)
	assertEq(t, s.ForgetRemoval(saved.ID, "ev-1"), true)
	assertEq(t, s.ForgetRemoval(cards[0].ID, "ev-2"), true)
	assertEq(t, s.HasUnsavedChanges(), false)
}

func TestConfirmAfterRemovalQueuesTheNewRow(t *testing.T) {
	s := newState()
	g, _ := s.AddGoal(GoalInput{Team: Home, Time: 10})
	s.RemoveGoal(g.ID)
	assertEq(t, len(s.Removed), 0)

	// the write of g landed after it was removed
	s.ConfirmGoals(map[string]Ack{g.ID: {Rev: g.Rev, RemoteID: "ev-9"}})
	assertEq(t, len(s.Removed), 1)
	assertEq(t, s.Removed[0].RemoteID, "ev-9")
}

func TestWithdrawingYellowWithdrawsItsRed(t *testing.T) {
	tests := []struct {
		name      string
		remove    int
		wantLeft  int
		wantGone  int
		leftTypes []CardType
	}{
		{"first yellow", 0, 1, 2, []CardType{Yellow}},
		{"second yellow", 1, 1, 2, []CardType{Yellow}},
		{"red only", 2, 2, 1, []CardType{Yellow, Yellow}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newState()
			s.AddCard(CardInput{PlayerID: "p-6", Team: Away, Type: Yellow, Time: 600})
			s.AddCard(CardInput{PlayerID: "p-6", Team: Away, Type: Yellow, Time: 2400})
			s.AddCard(CardInput{PlayerID: "p-7", Team: Away, Type: Yellow, Time: 2500})
			ids := []string{s.Cards[0].ID, s.Cards[1].ID, s.Cards[2].ID}

			removed, ok := s.RemoveCard(ids[tt.remove])
			assertEq(t, ok, true)
			assertEq(t, len(removed), tt.wantGone)

			var left []CardType
			for _, c := range s.Cards {
				if c.PlayerID == "p-6" {
					left = append(left, c.Type)
				}
			}
			assertEq(t, len(left), tt.wantLeft)
			for i := range left {
				assertEq(t, left[i], tt.leftTypes[i])
			}
			assertEq(t, len(s.Cards), tt.wantLeft+1)
		})
	}
}

func TestResetChangesEpochAndDropsRemovals(t *testing.T) {
	s := newState()
	g, _ := s.AddGoal(GoalInput{Team: Home, Time: 10})
	s.ConfirmGoals(map[string]Ack{g.ID: {Rev: g.Rev, RemoteID: "ev-1"}})
	s.RemoveGoal(g.ID)
	before := s.Epoch()

	s.Reset("fx-1", homeTeam, awayTeam)
	assertEq(t, s.Epoch(), before+1)
	assertEq(t, len(s.Removed), 0)
}

func assertEq[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}
