package telemetry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type Counter struct {
	val atomic.Int64
}

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

type Gauge struct {
	val atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.val.Store(v) }
func (g *Gauge) Add(n int64)  { g.val.Add(n) }
func (g *Gauge) Inc()         { g.val.Add(1) }
func (g *Gauge) Dec()         { g.val.Add(-1) }
func (g *Gauge) Value() int64 { return g.val.Load() }

// LatencyTracker keeps the most recent maxKeep samples.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	maxKeep int
}

func NewLatencyTracker(maxKeep int) *LatencyTracker {
	return &LatencyTracker{maxKeep: maxKeep}
}

func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.samples = append(lt.samples, d)
	if len(lt.samples) > lt.maxKeep {
		lt.samples = lt.samples[len(lt.samples)-lt.maxKeep:]
	}
}

// Since records the time elapsed from start. Handy with defer.
func (lt *LatencyTracker) Since(start time.Time) {
	lt.Record(time.Since(start))
}

func (lt *LatencyTracker) P50() time.Duration { return lt.percentile(0.50) }
func (lt *LatencyTracker) P99() time.Duration { return lt.percentile(0.99) }

func (lt *LatencyTracker) percentile(p float64) time.Duration {
	lt.mu.Lock()
	sorted := make([]time.Duration, len(lt.samples))
	copy(sorted, lt.samples)
	lt.mu.Unlock()
	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

// Metrics is the global metrics registry.
var Metrics = struct {
	GoalsRecorded     Counter
	CardsIssued       Counter
	PlayerToggles     Counter
	MutationsQueued   Counter
	SyncsExecuted     Counter
	SyncErrors        Counter
	Discrepancies     Counter
	ScoreFixes        Counter
	DuplicatesBlocked Counter
	DuplicatesRemoved Counter
	BatchSaves        Counter
	BatchSaveFailures Counter
	InboxOverflows    Counter
	ActiveSessions    Gauge
	PendingMutations  Gauge
	SyncLatency       *LatencyTracker
	RemoteLatency     *LatencyTracker
}{
	SyncLatency:   NewLatencyTracker(1000),
	RemoteLatency: NewLatencyTracker(1000),
}

// Snapshot flattens the registry for the /metrics endpoint.
func Snapshot() map[string]any {
	m := &Metrics
	return map[string]any{
		"goals_recorded":      m.GoalsRecorded.Value(),
		"cards_issued":        m.CardsIssued.Value(),
		"player_toggles":      m.PlayerToggles.Value(),
		"mutations_queued":    m.MutationsQueued.Value(),
		"syncs_executed":      m.SyncsExecuted.Value(),
		"sync_errors":         m.SyncErrors.Value(),
		"discrepancies":       m.Discrepancies.Value(),
		"score_fixes":         m.ScoreFixes.Value(),
		"duplicates_blocked":  m.DuplicatesBlocked.Value(),
		"duplicates_removed":  m.DuplicatesRemoved.Value(),
		"batch_saves":         m.BatchSaves.Value(),
		"batch_save_failures": m.BatchSaveFailures.Value(),
		"inbox_overflows":     m.InboxOverflows.Value(),
		"active_sessions":     m.ActiveSessions.Value(),
		"pending_mutations":   m.PendingMutations.Value(),
		"sync_latency_p50_ms": m.SyncLatency.P50().Milliseconds(),
		"sync_latency_p99_ms": m.SyncLatency.P99().Milliseconds(),
		"remote_p50_ms":       m.RemoteLatency.P50().Milliseconds(),
		"remote_p99_ms":       m.RemoteLatency.P99().Milliseconds(),
	}
}
