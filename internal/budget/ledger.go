// Package budget implements the process-wide windowed spend ledger.
package budget

import (
	"sync"
	"time"

	"github.com/mvalko/scrape-orchestrator/internal/metrics"
	"github.com/mvalko/scrape-orchestrator/internal/orchestrator"
)

// Config sets the ceilings for one budget window. Zero ceilings mean
// unlimited.
type Config struct {
	MaxSpend float64
	MaxCount int64
	Window   time.Duration
}

// DefaultWindow is the daily budget period.
const DefaultWindow = 24 * time.Hour

// Ledger tracks cumulative spend and attempt count within the current
// window. Reserve is the atomic check-then-charge; the window rolls lazily
// inside the same critical section, so there is no background timer.
type Ledger struct {
	mu          sync.Mutex
	cfg         Config
	clock       orchestrator.Clock
	periodStart time.Time
	spent       float64
	count       int64
}

// New creates a Ledger anchored at the current window boundary.
func New(cfg Config, clock orchestrator.Clock) *Ledger {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	l := &Ledger{cfg: cfg, clock: clock}
	l.periodStart = windowStart(clock.Now(), cfg.Window)
	return l
}

// Reserve atomically checks the ceilings and charges the estimated cost of
// one attempt. It returns false, charging nothing, when the charge would
// push spend past MaxSpend or count past MaxCount.
func (l *Ledger) Reserve(cost float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	if l.cfg.MaxSpend > 0 && l.spent+cost > l.cfg.MaxSpend {
		return false
	}
	if l.cfg.MaxCount > 0 && l.count+1 > l.cfg.MaxCount {
		return false
	}
	l.spent += cost
	l.count++
	metrics.SetBudgetSpent(l.spent)
	return true
}

// Commit settles a reservation against the actual cost reported by the
// attempt. The delta may be negative; spend never drops below the window
// floor. An overshoot past MaxSpend is tolerated here: the attempt already
// happened and the money is gone either way.
func (l *Ledger) Commit(reserved, actual float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	l.spent += actual - reserved
	if l.spent < 0 {
		l.spent = 0
	}
	metrics.SetBudgetSpent(l.spent)
}

// Rollback releases a reservation whose attempt was never issued.
func (l *Ledger) Rollback(reserved float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	l.spent -= reserved
	if l.spent < 0 {
		l.spent = 0
	}
	if l.count > 0 {
		l.count--
	}
	metrics.SetBudgetSpent(l.spent)
}

// Spent returns the cost charged within the current window.
func (l *Ledger) Spent() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	return l.spent
}

// Count returns the attempts charged within the current window.
func (l *Ledger) Count() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	return l.count
}

// PeriodStart returns the start of the current window.
func (l *Ledger) PeriodStart() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	return l.periodStart
}

func (l *Ledger) rollLocked() {
	now := l.clock.Now()
	if now.Sub(l.periodStart) < l.cfg.Window {
		return
	}
	l.periodStart = windowStart(now, l.cfg.Window)
	l.spent = 0
	l.count = 0
	metrics.SetBudgetSpent(0)
}

// windowStart anchors windows at UTC midnight so a 24h window behaves as a
// calendar day regardless of process start time.
func windowStart(now time.Time, window time.Duration) time.Time {
	if window == DefaultWindow {
		y, m, d := now.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return now.UTC().Truncate(window)
}
