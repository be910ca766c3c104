// Package stability decides when a live weight reading is trustworthy
// enough to use for a pick, independent of the hardware's own stability bit.
package stability

import (
	"sync"
	"time"

	"partialpick/internal/models"
)

// Defaults for the settle rule
const (
	DefaultHold     = 2000 * time.Millisecond
	DefaultDebounce = 100 * time.Millisecond
)

// Config tunes the settle rule.
type Config struct {
	Hold     time.Duration // how long the weight must stay inside the window
	Debounce time.Duration // burst-coalescing window for raw samples
}

// Monitor applies the debounce + in-range + duration rule to the active
// scale's weight stream. A StableReading is emitted only after the weight
// has remained inside the tolerance window, with the hardware stable flag
// held true, for the full hold duration. Any exit from the window, flag
// drop, or disconnect cancels the in-progress settle.
type Monitor struct {
	mu sync.Mutex

	low, high float64
	hasWindow bool

	hold     time.Duration
	debounce time.Duration

	holding     bool
	candidate   models.WeightSample
	lastEvalAt  time.Time
	settleTimer *time.Timer

	current  *models.StableReading
	onStable func(models.StableReading)
}

// NewMonitor creates a monitor. Zero config fields fall back to defaults.
func NewMonitor(cfg Config) *Monitor {
	if cfg.Hold <= 0 {
		cfg.Hold = DefaultHold
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Monitor{hold: cfg.Hold, debounce: cfg.Debounce}
}

// OnStable registers the consumer of settled readings.
func (m *Monitor) OnStable(fn func(models.StableReading)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStable = fn
}

// SetWindow installs the target tolerance window and restarts evaluation.
func (m *Monitor) SetWindow(low, high float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.low, m.high = low, high
	m.hasWindow = true
	m.cancelLocked()
}

// ClearWindow removes the window; nothing settles without one.
func (m *Monitor) ClearWindow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasWindow = false
	m.cancelLocked()
}

// Reset cancels any in-progress settle and clears the current reading.
// Called on scale disconnect or active-scale switch.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelLocked()
}

// Current returns the standing stable reading, if any.
func (m *Monitor) Current() (models.StableReading, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return models.StableReading{}, false
	}
	return *m.current, true
}

// Observe evaluates one raw sample. Samples must arrive in order; bursts
// inside the debounce window that do not change in/out-of-window status are
// coalesced so jitter does not restart the hold timer. A single
// out-of-window sample always cancels the settle immediately.
func (m *Monitor) Observe(sample models.WeightSample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasWindow {
		return
	}

	inWindow := sample.Stable && sample.Weight >= m.low && sample.Weight <= m.high
	now := time.Now()

	if inWindow == m.holding && now.Sub(m.lastEvalAt) < m.debounce {
		if m.holding {
			m.candidate = sample
		}
		return
	}
	m.lastEvalAt = now

	if !inWindow {
		m.cancelLocked()
		return
	}

	m.candidate = sample
	if m.holding {
		return
	}

	m.holding = true
	m.settleTimer = time.AfterFunc(m.hold, m.settle)
}

// settle promotes the held candidate to the current StableReading.
func (m *Monitor) settle() {
	m.mu.Lock()
	if !m.holding {
		m.mu.Unlock()
		return
	}
	reading := models.StableReading{
		Weight:    m.candidate.Weight,
		ScaleID:   m.candidate.ScaleID,
		SettledAt: time.Now(),
	}
	m.current = &reading
	m.holding = false
	m.settleTimer = nil
	onStable := m.onStable
	m.mu.Unlock()

	if onStable != nil {
		onStable(reading)
	}
}

// cancelLocked stops the settle timer and clears both the candidate and the
// standing reading. Caller holds mu.
func (m *Monitor) cancelLocked() {
	if m.settleTimer != nil {
		m.settleTimer.Stop()
		m.settleTimer = nil
	}
	m.holding = false
	m.candidate = models.WeightSample{}
	m.current = nil
}
