package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charleschow/matchday/internal/config"
	"github.com/charleschow/matchday/internal/core/consistency"
	"github.com/charleschow/matchday/internal/core/dedup"
	"github.com/charleschow/matchday/internal/process"
	"github.com/charleschow/matchday/internal/telemetry"
)

func main() {
	fixture := flag.String("fixture", "", "fixture id to check")
	fix := flag.Bool("fix", false, "rewrite the stored score from the event log when out of sync")
	dedupe := flag.Bool("dedupe", false, "remove duplicate goal events before checking")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.Parse()

	if *fixture == "" {
		fmt.Fprintln(os.Stderr, "usage: go run ./cmd/scorecheck -fixture <id> [-dedupe] [-fix]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := process.OpenStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "remote store: %v\n", err)
		os.Exit(2)
	}
	defer store.Close()

	os.Exit(run(ctx, consistency.New(store, store, nil), dedup.New(store), *fixture, *dedupe, *fix))
}

// run returns the exit code: 0 in sync, 1 out of sync, 2 on error.
func run(ctx context.Context, scores *consistency.Service, dd *dedup.Service, fixtureID string, dedupe, fix bool) int {
	if dedupe {
		res, err := dd.CleanupDuplicateGoalEvents(ctx, fixtureID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dedupe: %v\n", err)
			return 2
		}
		fmt.Printf("duplicates removed: %d\n", res.RemovedCount)
		for _, e := range res.Errors {
			fmt.Printf("  error: %s\n", e)
		}
	}

	v, err := scores.VerifyScoreSync(ctx, fixtureID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify: %v\n", err)
		return 2
	}
	fmt.Printf("fixture %s  stored=%s  events=%s\n", fixtureID, v.FixtureScores, v.CalculatedScores)
	if v.Unattributed > 0 {
		fmt.Printf("  %d goal events match neither team\n", v.Unattributed)
	}
	if v.IsInSync {
		fmt.Println("in sync")
		return 0
	}
	fmt.Println(v.Discrepancy)
	if !fix {
		return 1
	}

	score, err := scores.UpdateFixtureScoreRealTime(ctx, fixtureID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fix: %v\n", err)
		return 2
	}
	fmt.Printf("stored score rewritten to %s\n", score)
	return 0
}
