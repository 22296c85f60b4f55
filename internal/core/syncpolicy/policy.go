// Package syncpolicy decides whether a background sync may fire now.
package syncpolicy

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/charleschow/matchday/internal/clock"
)

type Config struct {
	MinTimeBetweenSyncs    time.Duration
	MaxPendingChanges      int
	ActivePlayersThreshold int
}

type Reason string

const (
	ReasonNoPending  Reason = "no_pending_changes"
	ReasonManualOnly Reason = "manual_only"
	ReasonDisabled   Reason = "auto_sync_disabled"
	ReasonNoActivity Reason = "no_active_players"
	ReasonCooldown   Reason = "cooldown"
	ReasonReady      Reason = "ready"
	ReasonWaiting    Reason = "waiting_for_activity"
)

// Decision explains one evaluation of the policy.
type Decision struct {
	Sync     bool          `json:"sync"`
	Reason   Reason        `json:"reason"`
	Cooldown time.Duration `json:"cooldown_ns,omitempty"`
	Pending  int           `json:"pending"`
	Active   int           `json:"active"`

	maxPending int
}

// String is the operator-facing explanation.
func (d Decision) String() string {
	switch d.Reason {
	case ReasonNoPending:
		return "No pending changes"
	case ReasonManualOnly:
		return fmt.Sprintf("Manual sync only: %d change(s) wait for Save", d.Pending)
	case ReasonDisabled:
		return fmt.Sprintf("Auto-sync disabled: %d change(s) wait for Save", d.Pending)
	case ReasonNoActivity:
		return fmt.Sprintf("Waiting for more activity: no players on the pitch, %d change(s) queued", d.Pending)
	case ReasonCooldown:
		return fmt.Sprintf("Cooldown: next sync in %d seconds", int(math.Ceil(d.Cooldown.Seconds())))
	case ReasonReady:
		return fmt.Sprintf("Ready to sync %d change(s)", d.Pending)
	default:
		return fmt.Sprintf("Waiting for more activity: %d/%d changes", d.Pending, d.maxPending)
	}
}

// Policy is safe for concurrent use. The two switches are exclusive:
// manual-only turns auto-sync off, and turning auto-sync on clears
// manual-only.
type Policy struct {
	mu       sync.Mutex
	cfg      Config
	clock    clock.Clock
	auto     bool
	manual   bool
	lastSync time.Time
}

func New(cfg Config, clk clock.Clock) *Policy {
	return &Policy{cfg: cfg, clock: clk, auto: true}
}

func (p *Policy) SetAutoSyncEnabled(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.auto = on
	if on {
		p.manual = false
	}
}

func (p *Policy) SetManualSyncOnly(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.manual = on
	if on {
		p.auto = false
	}
}

func (p *Policy) AutoSyncEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.auto
}

func (p *Policy) ManualSyncOnly() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.manual
}

// MarkSyncCompleted restarts the cooldown window.
func (p *Policy) MarkSyncCompleted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSync = p.clock.Now()
}

func (p *Policy) LastSync() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSync
}

func (p *Policy) ShouldAutoSync(active, pending int) bool {
	return p.Evaluate(active, pending).Sync
}

func (p *Policy) Recommendation(active, pending int) string {
	return p.Evaluate(active, pending).String()
}

// Evaluate applies the gate:
//
//	auto && !manual && active > 0 && sinceLast >= minTimeBetweenSyncs &&
//	(pending >= maxPendingChanges || active >= activePlayersThreshold)
//
// Pending == 0 is reported first so the operator sees there is nothing to do.
func (p *Policy) Evaluate(active, pending int) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	d := Decision{Pending: pending, Active: active, maxPending: p.cfg.MaxPendingChanges}
	switch {
	case pending == 0:
		d.Reason = ReasonNoPending
		// The gate itself does not look at pending.
		d.Sync = p.gateOpen(active, pending)
		return d
	case p.manual:
		d.Reason = ReasonManualOnly
		return d
	case !p.auto:
		d.Reason = ReasonDisabled
		return d
	case active <= 0:
		d.Reason = ReasonNoActivity
		return d
	}

	if remaining := p.cooldownRemaining(); remaining > 0 {
		d.Reason = ReasonCooldown
		d.Cooldown = remaining
		return d
	}
	if pending >= p.cfg.MaxPendingChanges || active >= p.cfg.ActivePlayersThreshold {
		d.Reason = ReasonReady
		d.Sync = true
		return d
	}
	d.Reason = ReasonWaiting
	return d
}

func (p *Policy) gateOpen(active, pending int) bool {
	return p.auto && !p.manual && active > 0 && p.cooldownRemaining() <= 0 &&
		(pending >= p.cfg.MaxPendingChanges || active >= p.cfg.ActivePlayersThreshold)
}

func (p *Policy) cooldownRemaining() time.Duration {
	if p.lastSync.IsZero() {
		return 0
	}
	return p.cfg.MinTimeBetweenSyncs - p.clock.Now().Sub(p.lastSync)
}

// Settings is the JSON view of the switches.
type Settings struct {
	AutoSyncEnabled bool `json:"auto_sync_enabled"`
	ManualSyncOnly  bool `json:"manual_sync_only"`
}

func (p *Policy) Settings() Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Settings{AutoSyncEnabled: p.auto, ManualSyncOnly: p.manual}
}
