package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/charleschow/matchday/internal/clock"
	"github.com/charleschow/matchday/internal/config"
	"github.com/charleschow/matchday/internal/core/dedup"
	"github.com/charleschow/matchday/internal/core/match"
	"github.com/charleschow/matchday/internal/core/syncpolicy"
	"github.com/charleschow/matchday/internal/events"
	"github.com/charleschow/matchday/internal/remote/remotetest"
)

var (
	kickoff = time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC)
	home    = match.Team{ID: "t-home", Name: "Malmö FF"}
	away    = match.Team{ID: "t-away", Name: "Hammarby IF"}
)

func open(t *testing.T, tweak func(*config.SyncProfile)) (*Session, *clock.Fake, *remotetest.Memory, *events.Bus) {
	t.Helper()
	profile := config.DefaultSyncProfile()
	if tweak != nil {
		tweak(&profile)
	}
	clk := clock.NewFake(kickoff)
	store := remotetest.NewMemory()
	bus := events.NewBus()
	s := Open("fx-1", home, away, Options{Profile: profile, Clock: clk, Store: store, Bus: bus, InboxSize: 2048})
	t.Cleanup(s.Close)
	return s, clk, store, bus
}

// barrier waits until every closure queued so far has run.
func barrier(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Do(func() {}); err != nil {
		t.Fatal(err)
	}
}

func manualOnly(p *config.SyncProfile) { p.ManualSyncOnly = true }

func TestGoalsDeriveScore(t *testing.T) {
	s, _, _, bus := open(t, nil)
	var recorded []events.GoalRecorded
	bus.Subscribe(func(e events.Event) error {
		recorded = append(recorded, e.Payload.(events.GoalRecorded))
		return nil
	}, events.EventGoalRecorded)

	g1, err := s.AddGoal(match.GoalInput{Team: match.Home, PlayerName: "Ana", Time: 600})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddGoal(match.GoalInput{Team: match.Home, PlayerName: "Bo", Time: 1200, IsOwnGoal: true}); err != nil {
		t.Fatal(err)
	}

	st, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	assertEq(t, st.HomeScore, 1)
	assertEq(t, st.AwayScore, 1)
	assertEq(t, len(recorded), 2)
	assertEq(t, recorded[1].OwnGoal, true)
	assertEq(t, recorded[1].AwayScore, 1)

	if err := s.RemoveGoal(g1.ID); err != nil {
		t.Fatal(err)
	}
	st, _ = s.Snapshot()
	assertEq(t, st.HomeScore, 0)
	assertEq(t, st.AwayScore, 1)

	if err := s.RemoveGoal(g1.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDuplicateGoalRejected(t *testing.T) {
	s, _, _, _ := open(t, nil)
	in := match.GoalInput{Team: match.Away, PlayerName: "Ana", Time: 600}
	if _, err := s.AddGoal(in); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddGoal(in); !errors.Is(err, dedup.ErrDuplicateEvent) {
		t.Fatalf("err = %v, want ErrDuplicateEvent", err)
	}
	st, _ := s.Snapshot()
	assertEq(t, st.AwayScore, 1)
	assertEq(t, len(st.Goals), 1)
}

func TestValidationRejectedBeforeMutation(t *testing.T) {
	s, _, _, _ := open(t, nil)
	if _, err := s.AddGoal(match.GoalInput{Time: 10}); !errors.Is(err, match.ErrMissingTeam) {
		t.Fatalf("err = %v", err)
	}
	if _, err := s.AddCard(match.CardInput{Team: match.Home, PlayerID: "p1", Type: "green"}); !errors.Is(err, match.ErrInvalidCardType) {
		t.Fatalf("err = %v", err)
	}
	c, _ := s.Unsaved()
	assertEq(t, c.Total, 0)
}

func TestQuickGoal(t *testing.T) {
	tests := []struct {
		ref     string
		want    match.Side
		wantErr error
	}{
		{"home", match.Home, nil},
		{"malmo", match.Home, nil},
		{"Hammarby", match.Away, nil},
		{"t-away", match.Away, nil},
		{"Celtic", "", ErrUnknownTeam},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			s, _, _, _ := open(t, nil)
			g, err := s.QuickGoal(tt.ref, 300)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				st, _ := s.Snapshot()
				assertEq(t, st.HomeScore+st.AwayScore, 0)
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			assertEq(t, g.Team, tt.want)
			assertEq(t, g.PlayerID, "")
		})
	}
}

func TestQuickGoalAmbiguous(t *testing.T) {
	s, _, _, _ := open(t, nil)
	if err := s.SetTeams(match.Team{ID: "a", Name: "Rovers"}, match.Team{ID: "b", Name: "Rovers"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.QuickGoal("rovers", 10); !errors.Is(err, ErrAmbiguousTeam) {
		t.Fatalf("err = %v, want ErrAmbiguousTeam", err)
	}
}

func TestUpdateGoalAttachesPlayer(t *testing.T) {
	s, _, _, _ := open(t, nil)
	g, _ := s.QuickGoal("away", 900)
	name := "Ana"
	updated, err := s.UpdateGoal(g.ID, match.GoalPatch{PlayerName: &name})
	if err != nil {
		t.Fatal(err)
	}
	assertEq(t, updated.PlayerName, "Ana")
	assertEq(t, updated.Team, match.Away)

	if _, err := s.UpdateGoal("nope", match.GoalPatch{PlayerName: &name}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestToggleSchedulesSyncAndConfirms(t *testing.T) {
	s, clk, store, _ := open(t, nil)
	if _, err := s.AddPlayer(match.PlayerInput{PlayerID: "p1", PlayerName: "Ana", Team: match.Home}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TogglePlayer("p1"); err != nil {
		t.Fatal(err)
	}
	assertEq(t, s.PendingSyncs(), 1)

	clk.Advance(5 * time.Second)
	barrier(t, s)

	assertEq(t, store.Calls("UpsertPlayerTime"), 1)
	rec, ok := store.PlayerTime("fx-1", "p1")
	assertEq(t, ok, true)
	assertEq(t, rec.TeamID, "t-home")
	assertEq(t, s.PendingSyncs(), 0)

	st, _ := s.Snapshot()
	assertEq(t, st.PlayerTimes[0].Synced, true)
	assertEq(t, st.PlayerTimes[0].TotalTime, 5)
}

func TestAutoSaveCheckpointQueuesRunningPlayer(t *testing.T) {
	s, clk, store, _ := open(t, nil)
	s.AddPlayer(match.PlayerInput{PlayerID: "p1", PlayerName: "Ana", Team: match.Home})
	s.TogglePlayer("p1")
	clk.Advance(5 * time.Second)
	barrier(t, s)
	assertEq(t, store.Calls("UpsertPlayerTime"), 1)

	clk.Advance(295 * time.Second)
	barrier(t, s)
	st, _ := s.Snapshot()
	assertEq(t, st.PlayerTimes[0].Synced, false)
	assertEq(t, s.PendingSyncs(), 1)

	clk.Advance(5 * time.Second)
	barrier(t, s)
	rec, _ := store.PlayerTime("fx-1", "p1")
	assertEq(t, rec.TotalMinutes, 5.0)
	assertEq(t, store.Calls("UpsertPlayerTime"), 2)
}

func TestManualOnlyWaitsForForce(t *testing.T) {
	s, clk, store, _ := open(t, manualOnly)
	s.AddPlayer(match.PlayerInput{PlayerID: "p1", PlayerName: "Ana", Team: match.Home})
	s.TogglePlayer("p1")

	clk.Advance(60 * time.Second)
	barrier(t, s)
	assertEq(t, store.Calls("UpsertPlayerTime"), 0)

	status, err := s.SyncStatus()
	if err != nil {
		t.Fatal(err)
	}
	assertEq(t, status.Reason, syncpolicy.ReasonManualOnly)
	assertEq(t, status.PendingChanges, 1)
	assertEq(t, status.Settings.ManualSyncOnly, true)

	if err := s.ForceSync(context.Background()); err != nil {
		t.Fatal(err)
	}
	barrier(t, s)
	assertEq(t, store.Calls("UpsertPlayerTime"), 1)
	c, _ := s.Unsaved()
	assertEq(t, c.PlayerTimes, 0)
}

func TestSetSyncModeReenablesAuto(t *testing.T) {
	s, clk, store, _ := open(t, manualOnly)
	s.AddPlayer(match.PlayerInput{PlayerID: "p1", PlayerName: "Ana", Team: match.Home})
	s.TogglePlayer("p1")

	got := s.SetSyncMode(syncpolicy.Settings{AutoSyncEnabled: true})
	assertEq(t, got.AutoSyncEnabled, true)
	assertEq(t, got.ManualSyncOnly, false)
	barrier(t, s)

	clk.Advance(5 * time.Second)
	barrier(t, s)
	assertEq(t, store.Calls("UpsertPlayerTime"), 1)
}

func TestEditDuringFlushStaysUnsynced(t *testing.T) {
	s, _, store, _ := open(t, manualOnly)
	s.AddPlayer(match.PlayerInput{PlayerID: "p1", PlayerName: "Ana", Team: match.Home})
	s.TogglePlayer("p1")

	entered := make(chan struct{})
	release := make(chan struct{})
	store.Hook = func(op string) error {
		if op == "UpsertPlayerTime" {
			close(entered)
			<-release
		}
		return nil
	}
	done := make(chan error)
	go func() { done <- s.ForceSync(context.Background()) }()
	<-entered

	store.Hook = nil
	name := "Ana Lind"
	if _, err := s.UpdatePlayer("p1", match.PlayerPatch{PlayerName: &name}); err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	barrier(t, s)

	st, _ := s.Snapshot()
	assertEq(t, st.PlayerTimes[0].Synced, false)
	assertEq(t, st.PlayerTimes[0].PlayerName, "Ana Lind")
	assertEq(t, s.PendingSyncs(), 1)
}

func TestSyncFailurePublishesAndKeepsPending(t *testing.T) {
	s, _, store, bus := open(t, manualOnly)
	var failed []events.SyncResult
	bus.Subscribe(func(e events.Event) error {
		failed = append(failed, e.Payload.(events.SyncResult))
		return nil
	}, events.EventSyncFailed)

	s.AddPlayer(match.PlayerInput{PlayerID: "p1", PlayerName: "Ana", Team: match.Home})
	s.TogglePlayer("p1")
	store.FailOn("UpsertPlayerTime", errors.New("offline"))

	if err := s.ForceSync(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	assertEq(t, len(failed), 1)
	assertEq(t, failed[0].Pending, 1)
	status, _ := s.SyncStatus()
	if status.LastError == "" {
		t.Fatal("expected last error")
	}
}

func TestResetClearsEverything(t *testing.T) {
	s, clk, store, _ := open(t, nil)
	s.AddGoal(match.GoalInput{Team: match.Home, Time: 10})
	s.AddPlayer(match.PlayerInput{PlayerID: "p1", PlayerName: "Ana", Team: match.Home})
	s.TogglePlayer("p1")

	if err := s.Reset(home, away); err != nil {
		t.Fatal(err)
	}
	assertEq(t, s.PendingSyncs(), 0)
	st, _ := s.Snapshot()
	assertEq(t, st.HomeScore, 0)
	assertEq(t, len(st.PlayerTimes), 0)

	clk.Advance(60 * time.Second)
	barrier(t, s)
	assertEq(t, store.Calls("UpsertPlayerTime"), 0)
}

func TestVisibleResyncsClocks(t *testing.T) {
	s, clk, _, _ := open(t, func(p *config.SyncProfile) { p.TickInterval = time.Hour })
	s.AddPlayer(match.PlayerInput{PlayerID: "p1", PlayerName: "Ana", Team: match.Away})
	s.TogglePlayer("p1")
	clk.Advance(90 * time.Second)

	st, _ := s.Snapshot()
	assertEq(t, st.PlayerTimes[0].TotalTime, 0)
	if err := s.Visible(); err != nil {
		t.Fatal(err)
	}
	st, _ = s.Snapshot()
	assertEq(t, st.PlayerTimes[0].TotalTime, 90)
}

func TestResumePlayer(t *testing.T) {
	s, _, _, _ := open(t, nil)
	s.AddPlayer(match.PlayerInput{PlayerID: "p1", PlayerName: "Ana", Team: match.Away})
	p, err := s.ResumePlayer("p1", 120)
	if err != nil {
		t.Fatal(err)
	}
	assertEq(t, p.IsPlaying, true)
	assertEq(t, p.TotalTime, 120)
	if _, err := s.ResumePlayer("ghost", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestClosedSessionRejectsCalls(t *testing.T) {
	s, _, _, _ := open(t, nil)
	s.Close()
	s.Close()
	if _, err := s.AddGoal(match.GoalInput{Team: match.Home}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	assertEq(t, s.Send(func() {}), false)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	clk := clock.NewFake(kickoff)
	opts := Options{Profile: config.DefaultSyncProfile(), Clock: clk, Store: remotetest.NewMemory()}

	a := Open("fx-b", home, away, opts)
	b := Open("fx-a", home, away, opts)
	if _, ok := r.Add(a); !ok {
		t.Fatal("first add rejected")
	}
	r.Add(b)
	dup := Open("fx-b", home, away, opts)
	defer dup.Close()
	got, ok := r.Add(dup)
	assertEq(t, ok, false)
	assertEq(t, got, a)
	assertEq(t, r.Count(), 2)

	all := r.All()
	assertEq(t, all[0].FixtureID(), "fx-a")

	assertEq(t, r.Remove("fx-b"), true)
	assertEq(t, r.Remove("fx-b"), false)
	if _, err := a.Snapshot(); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v", err)
	}
	r.CloseAll()
	assertEq(t, r.Count(), 0)
}

func assertEq[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestSameMinuteGoalsByOnePlayerRejected(t *testing.T) {
	s, _, _, _ := open(t, nil)
	if _, err := s.AddGoal(match.GoalInput{Team: match.Home, PlayerName: "Ana", Time: 10}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddGoal(match.GoalInput{Team: match.Home, PlayerName: "Ana", Time: 50}); !errors.Is(err, dedup.ErrDuplicateEvent) {
		t.Fatalf("err = %v, want ErrDuplicateEvent", err)
	}
	if _, err := s.AddGoal(match.GoalInput{Team: match.Home, PlayerName: "Ana", Time: 60}); err != nil {
		t.Fatal(err)
	}
	st, _ := s.Snapshot()
	assertEq(t, st.HomeScore, 2)
}

func TestNamingQuickGoalIntoCollisionRejected(t *testing.T) {
	s, _, _, _ := open(t, nil)
	g1, err := s.QuickGoal("home", 10)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := s.QuickGoal("home", 50)
	if err != nil {
		t.Fatal(err)
	}
	name := "Ana"
	if _, err := s.UpdateGoal(g1.ID, match.GoalPatch{PlayerName: &name}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateGoal(g2.ID, match.GoalPatch{PlayerName: &name}); !errors.Is(err, dedup.ErrDuplicateEvent) {
		t.Fatalf("err = %v, want ErrDuplicateEvent", err)
	}
	// Renaming a goal to its own name is not a collision.
	if _, err := s.UpdateGoal(g1.ID, match.GoalPatch{PlayerName: &name}); err != nil {
		t.Fatal(err)
	}

	st, _ := s.Snapshot()
	assertEq(t, st.HomeScore, 2)
	assertEq(t, st.Goals[1].PlayerName, "")
}

func TestForceSyncWritesRunningClockUpToNow(t *testing.T) {
	s, clk, store, _ := open(t, manualOnly)
	s.AddPlayer(match.PlayerInput{PlayerID: "p1", PlayerName: "Ana", Team: match.Home})
	s.TogglePlayer("p1")
	clk.Advance(240 * time.Second)

	if err := s.ForceSync(context.Background()); err != nil {
		t.Fatal(err)
	}
	barrier(t, s)
	rec, ok := store.PlayerTime("fx-1", "p1")
	if !ok {
		t.Fatal("no remote record")
	}
	assertEq(t, rec.TotalMinutes, 4.0)
	st, _ := s.Snapshot()
	assertEq(t, st.PlayerTimes[0].TotalTime, 240)
	assertEq(t, st.PlayerTimes[0].IsPlaying, true)
}

func TestResumeQueuesPlayerTime(t *testing.T) {
	s, _, store, _ := open(t, manualOnly)
	s.AddPlayer(match.PlayerInput{PlayerID: "p1", PlayerName: "Ana", Team: match.Away})
	if _, err := s.ResumePlayer("p1", 120); err != nil {
		t.Fatal(err)
	}
	assertEq(t, s.PendingSyncs(), 1)
	c, _ := s.Unsaved()
	assertEq(t, c.PlayerTimes, 1)

	if err := s.ForceSync(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec, _ := store.PlayerTime("fx-1", "p1")
	assertEq(t, rec.TotalMinutes, 2.0)
}

func TestRequeuedPlayerDoesNotCountTwice(t *testing.T) {
	s, clk, store, _ := open(t, func(p *config.SyncProfile) {
		p.MaxPendingChanges = 2
		p.ActivePlayersThreshold = 10
	})
	s.AddPlayer(match.PlayerInput{PlayerID: "p1", PlayerName: "Ana", Team: match.Home})
	s.TogglePlayer("p1")
	name := "Ana Lind"
	if _, err := s.UpdatePlayer("p1", match.PlayerPatch{PlayerName: &name}); err != nil {
		t.Fatal(err)
	}
	assertEq(t, s.PendingSyncs(), 1)

	clk.Advance(60 * time.Second)
	barrier(t, s)
	assertEq(t, store.Calls("UpsertPlayerTime"), 0)
	assertEq(t, s.PendingSyncs(), 1)
}

func TestWithdrawnYellowTakesItsRed(t *testing.T) {
	s, _, _, _ := open(t, nil)
	first, err := s.AddCard(match.CardInput{Team: match.Home, PlayerID: "p1", PlayerName: "Ana", Type: match.Yellow, Time: 600})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.AddCard(match.CardInput{Team: match.Home, PlayerID: "p1", PlayerName: "Ana", Type: match.Yellow, Time: 1200})
	if err != nil {
		t.Fatal(err)
	}
	assertEq(t, len(second), 2)

	removed, err := s.RemoveCard(second[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	assertEq(t, len(removed), 2)
	st, _ := s.Snapshot()
	assertEq(t, len(st.Cards), 1)
	assertEq(t, st.Cards[0].ID, first[0].ID)
}
