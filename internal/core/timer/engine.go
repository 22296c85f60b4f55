// Package timer advances playing time for players on the pitch.
//
// Totals are recomputed from wall time on every tick (closed periods plus
// now minus the open period's start), so missed or throttled ticks
// correct themselves on the next one.
package timer

import (
	"time"

	"github.com/charleschow/matchday/internal/core/match"
)

// Engine is confined to the owning session's goroutine.
type Engine struct {
	autoSaveAfter int
	checkpoints   map[string]int
}

func New(autoSaveAfter time.Duration) *Engine {
	return &Engine{
		autoSaveAfter: int(autoSaveAfter / time.Second),
		checkpoints:   make(map[string]int),
	}
}

// Tick refreshes TotalTime for every playing entry and returns the ids of
// players whose time since their last checkpoint reached the auto-save
// threshold. The engine only signals; the caller decides whether to sync.
func (e *Engine) Tick(st *match.State, now time.Time) []string {
	var due []string
	for i := range st.PlayerTimes {
		p := &st.PlayerTimes[i]
		if !p.IsPlaying {
			continue
		}
		p.TotalTime = p.TotalAt(now)
		if p.TotalTime-e.checkpoints[p.PlayerID] >= e.autoSaveAfter {
			due = append(due, p.PlayerID)
		}
	}
	return due
}

// Resume reopens a player's period as if it had started elapsed seconds
// before now, so the clock continues from the right offset.
func (e *Engine) Resume(st *match.State, playerID string, elapsed int, now time.Time) bool {
	p := st.PlayerTime(playerID)
	if p == nil {
		return false
	}
	start := now.Add(-time.Duration(elapsed) * time.Second)
	p.StartTime = &start
	p.IsPlaying = true
	p.TotalTime = p.TotalAt(now)
	return true
}

// Checkpoint records the total that was last handed to the sync pipeline.
func (e *Engine) Checkpoint(playerID string, total int) {
	e.checkpoints[playerID] = total
}

// Uncommitted returns seconds accumulated since the last checkpoint.
func (e *Engine) Uncommitted(p *match.PlayerTimeEntry) int {
	return p.TotalTime - e.checkpoints[p.PlayerID]
}

func (e *Engine) Forget(playerID string) {
	delete(e.checkpoints, playerID)
}

func (e *Engine) Reset() {
	e.checkpoints = make(map[string]int)
}
