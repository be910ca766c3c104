package stability

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partialpick/internal/models"
)

func sample(weight float64, stable bool) models.WeightSample {
	return models.WeightSample{
		ScaleID:    models.ScaleSmall,
		Weight:     weight,
		Unit:       "kg",
		Stable:     stable,
		ObservedAt: time.Now(),
	}
}

// collector gathers settled readings across goroutines.
type collector struct {
	mu       sync.Mutex
	readings []models.StableReading
}

func (c *collector) record(r models.StableReading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readings = append(c.readings, r)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.readings)
}

func TestMonitor_SettlesAfterHold(t *testing.T) {
	m := NewMonitor(Config{Hold: 40 * time.Millisecond, Debounce: time.Millisecond})
	m.SetWindow(19.975, 20.025)

	var got collector
	m.OnStable(got.record)

	m.Observe(sample(20.0, true))

	_, ok := m.Current()
	assert.False(t, ok, "reading settled before the hold elapsed")

	require.Eventually(t, func() bool { return got.count() == 1 }, time.Second, 5*time.Millisecond)

	reading, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, 20.0, reading.Weight)
	assert.Equal(t, models.ScaleSmall, reading.ScaleID)
	assert.False(t, reading.SettledAt.IsZero())
}

func TestMonitor_OutOfWindowSampleResetsHold(t *testing.T) {
	m := NewMonitor(Config{Hold: 60 * time.Millisecond, Debounce: time.Millisecond})
	m.SetWindow(19.975, 20.025)

	var got collector
	m.OnStable(got.record)

	m.Observe(sample(20.0, true))
	time.Sleep(30 * time.Millisecond)
	m.Observe(sample(21.0, true)) // leaves the window mid-hold
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, 0, got.count(), "settle survived an out-of-window sample")
	_, ok := m.Current()
	assert.False(t, ok)

	// Re-entering restarts the full hold from zero.
	m.Observe(sample(20.01, true))
	require.Eventually(t, func() bool { return got.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestMonitor_RawStableFlagDropCancels(t *testing.T) {
	m := NewMonitor(Config{Hold: 60 * time.Millisecond, Debounce: time.Millisecond})
	m.SetWindow(19.975, 20.025)

	var got collector
	m.OnStable(got.record)

	m.Observe(sample(20.0, true))
	time.Sleep(20 * time.Millisecond)
	m.Observe(sample(20.0, false)) // hardware flag flips false
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, 0, got.count(), "settle survived a stable-flag drop")
}

func TestMonitor_ResetClearsEverything(t *testing.T) {
	m := NewMonitor(Config{Hold: 20 * time.Millisecond, Debounce: time.Millisecond})
	m.SetWindow(19.975, 20.025)

	var got collector
	m.OnStable(got.record)

	m.Observe(sample(20.0, true))
	require.Eventually(t, func() bool { return got.count() == 1 }, time.Second, 5*time.Millisecond)

	m.Reset() // e.g. scale disconnect
	_, ok := m.Current()
	assert.False(t, ok, "Reset left a stale stable reading behind")

	// An in-progress hold is cancelled too.
	m.Observe(sample(20.0, true))
	m.Reset()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, got.count(), "cancelled hold still settled")
}

func TestMonitor_NoWindowNoSettle(t *testing.T) {
	m := NewMonitor(Config{Hold: 10 * time.Millisecond, Debounce: time.Millisecond})

	var got collector
	m.OnStable(got.record)

	m.Observe(sample(20.0, true))
	time.Sleep(40 * time.Millisecond)

	assert.Equal(t, 0, got.count(), "settled without a tolerance window")
}

func TestMonitor_DebounceCoalescesJitter(t *testing.T) {
	// Large debounce: in-window jitter inside the burst window must update
	// the candidate without restarting the hold.
	m := NewMonitor(Config{Hold: 50 * time.Millisecond, Debounce: time.Hour})
	m.SetWindow(19.975, 20.025)

	var got collector
	m.OnStable(got.record)

	m.Observe(sample(20.0, true))
	m.Observe(sample(20.01, true))
	m.Observe(sample(20.02, true))

	require.Eventually(t, func() bool { return got.count() == 1 }, time.Second, 5*time.Millisecond)

	reading, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, 20.02, reading.Weight, "settled reading should carry the latest coalesced value")
}
