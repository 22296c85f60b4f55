// Package syncmgr batches per-player time mutations and flushes them to the
// remote store on a debounce timer, a staleness ceiling, or on demand.
package syncmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charleschow/matchday/internal/clock"
	"github.com/charleschow/matchday/internal/remote"
	"github.com/charleschow/matchday/internal/telemetry"
)

var ErrSyncInProgress = errors.New("syncmgr: sync already in progress")

// Phase is the scheduler state.
//
//	Idle         --schedule-->        Debouncing   (arm debounce + ceiling)
//	Debouncing   --schedule-->        Debouncing   (re-arm debounce only)
//	Debouncing   --debounce fires-->  Idle         (flush, ceiling cancelled)
//	Debouncing   --debounce fires while flushing--> CeilingArmed (flush reruns)
//	CeilingArmed --schedule-->        Debouncing   (arm debounce, keep ceiling)
//	any          --ceiling fires-->   Idle         (flush)
//	any          --force/clear-->     Idle         (timers cancelled)
type Phase int

const (
	Idle Phase = iota
	Debouncing
	CeilingArmed
)

func (p Phase) String() string {
	switch p {
	case Debouncing:
		return "debouncing"
	case CeilingArmed:
		return "ceiling_armed"
	default:
		return "idle"
	}
}

type Config struct {
	DebounceInterval time.Duration
	MaxSyncInterval  time.Duration
}

// Status is the operator view of the pipeline.
type Status struct {
	LastSyncTime   *time.Time `json:"last_sync_time,omitempty"`
	PendingChanges int        `json:"pending_changes"`
	IsSyncing      bool       `json:"is_syncing"`
	LastError      string     `json:"last_error,omitempty"`
	Phase          string     `json:"phase"`
	AutoSync       bool       `json:"auto_sync"`
}

// Result describes one flush.
type Result struct {
	FixtureID string
	Written   []Mutation
	Pending   int
	Duration  time.Duration
	Err       error
}

type pendingKey struct {
	fixtureID string
	playerID  string
}

type pendingEntry struct {
	m       Mutation
	version uint64
}

type Manager struct {
	cfg   Config
	clock clock.Clock
	store remote.PlayerTimeStore

	mu          sync.Mutex
	pending     map[pendingKey]pendingEntry
	version     uint64
	autoSync    bool
	phase       Phase
	debounce    clock.Timer
	ceiling     clock.Timer
	debounceGen uint64
	ceilingGen  uint64
	syncing     bool
	idle        chan struct{}
	cancelFlush context.CancelFunc
	clears      uint64
	rerun       bool
	lastSync    *time.Time
	lastErr     string
	onResult    []func(Result)
}

func New(cfg Config, clk clock.Clock, store remote.PlayerTimeStore) *Manager {
	return &Manager{
		cfg:      cfg,
		clock:    clk,
		store:    store,
		pending:  make(map[pendingKey]pendingEntry),
		autoSync: true,
	}
}

// OnResult registers a callback run after every flush, outside the lock.
// Register before the first ScheduleSync.
func (m *Manager) OnResult(fn func(Result)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onResult = append(m.onResult, fn)
}

// SetAutoSync turns timer-driven flushing on or off. Turning it off
// cancels armed timers; queued mutations wait for a forced sync.
func (m *Manager) SetAutoSync(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoSync = on
	if !on {
		m.cancelTimersLocked()
	}
}

// ScheduleSync queues mut, replacing any older mutation for the same
// player, and arms the timers when auto-sync is on.
func (m *Manager) ScheduleSync(fixtureID string, mut Mutation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueLocked(fixtureID, mut)
	if !m.autoSync {
		return
	}
	m.armLocked(fixtureID)
}

// Queue stores mut without touching the timers. It waits for a running
// window, a later Kick or a forced sync.
func (m *Manager) Queue(fixtureID string, mut Mutation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueLocked(fixtureID, mut)
}

func (m *Manager) queueLocked(fixtureID string, mut Mutation) {
	mut.FixtureID = fixtureID
	key := pendingKey{fixtureID: fixtureID, playerID: mut.PlayerID}
	if _, exists := m.pending[key]; !exists {
		telemetry.Metrics.PendingMutations.Inc()
	}
	m.version++
	m.pending[key] = pendingEntry{m: mut, version: m.version}
	telemetry.Metrics.MutationsQueued.Inc()
}

// Kick arms the timers for already-queued mutations without touching a
// running debounce window. Used to retry after a failed flush.
func (m *Manager) Kick(fixtureID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.autoSync || m.phase != Idle || m.countLocked(fixtureID) == 0 {
		return
	}
	m.armLocked(fixtureID)
}

func (m *Manager) armLocked(fixtureID string) {
	switch m.phase {
	case Idle:
		m.startDebounceLocked(fixtureID)
		m.startCeilingLocked(fixtureID)
	case Debouncing, CeilingArmed:
		m.startDebounceLocked(fixtureID)
	}
	m.phase = Debouncing
}

func (m *Manager) startDebounceLocked(fixtureID string) {
	if m.debounce != nil {
		m.debounce.Stop()
	}
	m.debounceGen++
	gen := m.debounceGen
	m.debounce = m.clock.AfterFunc(m.cfg.DebounceInterval, func() { m.debounceFired(fixtureID, gen) })
}

func (m *Manager) startCeilingLocked(fixtureID string) {
	if m.ceiling != nil {
		m.ceiling.Stop()
	}
	m.ceilingGen++
	gen := m.ceilingGen
	m.ceiling = m.clock.AfterFunc(m.cfg.MaxSyncInterval, func() { m.ceilingFired(fixtureID, gen) })
}

func (m *Manager) stopDebounceLocked() {
	if m.debounce != nil {
		m.debounce.Stop()
		m.debounce = nil
	}
	m.debounceGen++
}

func (m *Manager) stopCeilingLocked() {
	if m.ceiling != nil {
		m.ceiling.Stop()
		m.ceiling = nil
	}
	m.ceilingGen++
}

func (m *Manager) cancelTimersLocked() {
	m.stopDebounceLocked()
	m.stopCeilingLocked()
	m.phase = Idle
}

func (m *Manager) debounceFired(fixtureID string, gen uint64) {
	m.mu.Lock()
	if gen != m.debounceGen {
		m.mu.Unlock()
		return
	}
	m.debounce = nil
	if m.syncing {
		m.rerun = true
		m.phase = CeilingArmed
		m.mu.Unlock()
		return
	}
	m.stopCeilingLocked()
	m.phase = Idle
	m.mu.Unlock()

	m.flushFromTimer(fixtureID, "debounce")
}

func (m *Manager) ceilingFired(fixtureID string, gen uint64) {
	m.mu.Lock()
	if gen != m.ceilingGen {
		m.mu.Unlock()
		return
	}
	m.ceiling = nil
	m.stopDebounceLocked()
	m.phase = Idle
	if m.syncing {
		m.rerun = true
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.flushFromTimer(fixtureID, "ceiling")
}

func (m *Manager) flushFromTimer(fixtureID, trigger string) {
	if err := m.ExecuteSync(context.Background(), fixtureID); err != nil && !errors.Is(err, ErrSyncInProgress) {
		telemetry.Warnf("syncmgr: %s flush for fixture %s failed: %v", trigger, fixtureID, err)
	}
}

// ExecuteSync writes every pending mutation of the fixture sequentially.
// The first failure aborts the batch and nothing is cleared. On success
// only entries not replaced during the flush are cleared.
func (m *Manager) ExecuteSync(ctx context.Context, fixtureID string) error {
	for {
		rerun, err := m.executeOnce(ctx, fixtureID)
		if err != nil || !rerun {
			return err
		}
	}
}

func (m *Manager) executeOnce(ctx context.Context, fixtureID string) (bool, error) {
	m.mu.Lock()
	if m.syncing {
		m.mu.Unlock()
		return false, ErrSyncInProgress
	}
	batch := m.batchLocked(fixtureID)
	clears := m.clears
	m.syncing = true
	m.rerun = false
	m.idle = make(chan struct{})
	flushCtx, cancel := context.WithCancel(ctx)
	m.cancelFlush = cancel
	m.mu.Unlock()
	defer cancel()

	start := m.clock.Now()
	var err error
	for _, e := range batch {
		if err = flushCtx.Err(); err != nil {
			break
		}
		if err = m.store.UpsertPlayerTime(flushCtx, e.m.Record()); err != nil {
			err = fmt.Errorf("upsert player time %s: %w", e.m.PlayerID, err)
			break
		}
	}
	elapsed := m.clock.Now().Sub(start)

	m.mu.Lock()
	res := Result{FixtureID: fixtureID, Duration: elapsed, Err: err}
	cleared := clears != m.clears
	switch {
	case cleared:
		// Pending was discarded mid-flight; nothing to confirm or report.
	case err == nil:
		for _, e := range batch {
			key := pendingKey{fixtureID: fixtureID, playerID: e.m.PlayerID}
			if cur, ok := m.pending[key]; ok && cur.version == e.version {
				delete(m.pending, key)
				telemetry.Metrics.PendingMutations.Dec()
			}
			res.Written = append(res.Written, e.m)
		}
		now := m.clock.Now()
		m.lastSync = &now
		m.lastErr = ""
	default:
		m.lastErr = err.Error()
	}
	res.Pending = m.countLocked(fixtureID)
	rerun := m.rerun && err == nil && res.Pending > 0
	m.rerun = false
	if m.phase == CeilingArmed && !rerun {
		m.stopCeilingLocked()
		m.phase = Idle
		if res.Pending > 0 && m.autoSync {
			m.armLocked(fixtureID)
		}
	}
	m.syncing = false
	m.cancelFlush = nil
	close(m.idle)
	callbacks := append([]func(Result){}, m.onResult...)
	m.mu.Unlock()

	if cleared {
		return false, nil
	}
	if err == nil {
		telemetry.Metrics.SyncsExecuted.Inc()
		telemetry.Metrics.SyncLatency.Record(elapsed)
		if len(batch) > 0 {
			telemetry.Infof("syncmgr: fixture %s flushed %d player time(s) in %s", fixtureID, len(batch), elapsed)
		}
	} else {
		telemetry.Metrics.SyncErrors.Inc()
	}
	for _, fn := range callbacks {
		fn(res)
	}
	return rerun, err
}

func (m *Manager) batchLocked(fixtureID string) []pendingEntry {
	batch := make([]pendingEntry, 0, len(m.pending))
	for k, e := range m.pending {
		if k.fixtureID == fixtureID {
			batch = append(batch, e)
		}
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].version < batch[j].version })
	return batch
}

// ForceSyncNow cancels both timers and flushes immediately, waiting for an
// in-flight flush to finish first.
func (m *Manager) ForceSyncNow(ctx context.Context, fixtureID string) error {
	for {
		m.mu.Lock()
		m.cancelTimersLocked()
		if !m.syncing {
			m.mu.Unlock()
			break
		}
		idle := m.idle
		m.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	err := m.ExecuteSync(ctx, fixtureID)
	if errors.Is(err, ErrSyncInProgress) {
		return m.ForceSyncNow(ctx, fixtureID)
	}
	return err
}

// ClearPendingChanges drops every queued mutation without writing, cancels
// both timers and aborts the remaining writes of an in-flight flush.
func (m *Manager) ClearPendingChanges() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimersLocked()
	telemetry.Metrics.PendingMutations.Add(-int64(len(m.pending)))
	m.pending = make(map[pendingKey]pendingEntry)
	m.rerun = false
	m.lastErr = ""
	m.clears++
	if m.cancelFlush != nil {
		m.cancelFlush()
	}
}

func (m *Manager) countLocked(fixtureID string) int {
	n := 0
	for k := range m.pending {
		if k.fixtureID == fixtureID {
			n++
		}
	}
	return n
}

// IsPending reports whether the player already has a queued mutation.
func (m *Manager) IsPending(fixtureID, playerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[pendingKey{fixtureID: fixtureID, playerID: playerID}]
	return ok
}

// PendingCount counts queued mutations for the fixture.
func (m *Manager) PendingCount(fixtureID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(fixtureID)
}

func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		PendingChanges: len(m.pending),
		IsSyncing:      m.syncing,
		LastError:      m.lastErr,
		Phase:          m.phase.String(),
		AutoSync:       m.autoSync,
	}
	if m.lastSync != nil {
		ls := *m.lastSync
		st.LastSyncTime = &ls
	}
	return st
}
