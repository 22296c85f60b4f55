package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charleschow/matchday/internal/events"
	"github.com/charleschow/matchday/internal/fanout"
	"github.com/charleschow/matchday/internal/telemetry"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "matchday server host:port")
	fixture := flag.String("fixture", "", "follow one fixture (default: all)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	bus.Subscribe(func(e events.Event) error {
		fmt.Println(describe(e))
		return nil
	}, fanout.Forwarded...)

	telemetry.Infof("following %s (fixture=%s)", *addr, *fixture)
	fanout.NewClient(*addr, *fixture, bus).ConnectWithRetry(ctx)
	fmt.Fprintln(os.Stderr, "stopped")
}

func describe(e events.Event) string {
	at := e.Timestamp.Local().Format("15:04:05")
	switch p := e.Payload.(type) {
	case events.GoalRecorded:
		og := ""
		if p.OwnGoal {
			og = " (og)"
		}
		return fmt.Sprintf("%s [%s] GOAL %s %s%s %d' -> %d-%d", at, e.FixtureID, p.Side, p.PlayerName, og, p.Time/60+1, p.HomeScore, p.AwayScore)
	case events.GoalRemoved:
		return fmt.Sprintf("%s [%s] goal removed -> %d-%d", at, e.FixtureID, p.HomeScore, p.AwayScore)
	case events.CardIssued:
		return fmt.Sprintf("%s [%s] %s card %s %s %d'", at, e.FixtureID, p.CardType, p.Side, p.PlayerName, p.Time/60+1)
	case events.PlayerToggled:
		state := "off"
		if p.IsPlaying {
			state = "on"
		}
		return fmt.Sprintf("%s [%s] %s %s (%ds played)", at, e.FixtureID, p.PlayerName, state, p.TotalSeconds)
	case events.SyncResult:
		if p.Error != "" {
			return fmt.Sprintf("%s [%s] sync failed: %s (%d pending)", at, e.FixtureID, p.Error, p.Pending)
		}
		return fmt.Sprintf("%s [%s] synced %d (%d pending, %dms)", at, e.FixtureID, p.Written, p.Pending, p.DurationMs)
	case events.ScoreVerified:
		return fmt.Sprintf("%s [%s] score check: %s", at, e.FixtureID, p.Message)
	case events.BatchSaved:
		return fmt.Sprintf("%s [%s] batch save ok=%v goals=%d cards=%d players=%d", at, e.FixtureID, p.OK, p.Goals, p.Cards, p.PlayerTimes)
	case events.SessionStatus:
		if p.Open {
			return fmt.Sprintf("%s [%s] session opened: %s vs %s", at, e.FixtureID, p.HomeTeam, p.AwayTeam)
		}
		return fmt.Sprintf("%s [%s] session closed", at, e.FixtureID)
	}
	return fmt.Sprintf("%s [%s] %s", at, e.FixtureID, e.Type)
}
