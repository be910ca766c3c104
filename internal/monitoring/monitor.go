// Package monitoring exposes the terminal's operational metrics as
// prometheus collectors.
package monitoring

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"partialpick/internal/backend"
	"partialpick/internal/models"
)

// Metrics holds the collectors for scale telemetry and pick outcomes.
type Metrics struct {
	startTime time.Time

	ScaleState       *prometheus.GaugeVec
	ScaleReconnects  *prometheus.CounterVec
	SamplesReceived  *prometheus.CounterVec
	CurrentWeight    *prometheus.GaugeVec
	StableReadings   prometheus.Counter
	PicksCommitted   *prometheus.CounterVec
	PicksFailed      *prometheus.CounterVec
	PickLatency      prometheus.Histogram
	OfflineFallbacks prometheus.Counter
	UptimeSeconds    prometheus.GaugeFunc
}

// NewMetrics registers the terminal's collectors with reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{startTime: time.Now()}
	factory := promauto.With(reg)

	m.ScaleState = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pick_scale_connection_state",
		Help: "Connection state per scale (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 error).",
	}, []string{"scale"})

	m.ScaleReconnects = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "pick_scale_reconnects_total",
		Help: "Reconnection attempts per scale.",
	}, []string{"scale"})

	m.SamplesReceived = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "pick_scale_samples_total",
		Help: "Weight samples received per scale.",
	}, []string{"scale"})

	m.CurrentWeight = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pick_scale_weight_kg",
		Help: "Last observed weight per scale, in kilograms.",
	}, []string{"scale"})

	m.StableReadings = factory.NewCounter(prometheus.CounterOpts{
		Name: "pick_stable_readings_total",
		Help: "Readings that settled inside a tolerance window.",
	})

	m.PicksCommitted = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "pick_commits_total",
		Help: "Committed picks by weight source.",
	}, []string{"source"})

	m.PicksFailed = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "pick_failures_total",
		Help: "Failed pick attempts by reason.",
	}, []string{"reason"})

	m.PickLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "pick_commit_duration_seconds",
		Help:    "End-to-end latency of a pick commit.",
		Buckets: prometheus.DefBuckets,
	})

	m.OfflineFallbacks = factory.NewCounter(prometheus.CounterOpts{
		Name: "pick_offline_fallbacks_total",
		Help: "Run selections served from the offline cache.",
	})

	m.UptimeSeconds = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pick_terminal_uptime_seconds",
		Help: "Seconds since the terminal process started.",
	}, func() float64 {
		return time.Since(m.startTime).Seconds()
	})

	return m
}

var stateValues = map[models.ConnectionState]float64{
	models.StateDisconnected: 0,
	models.StateConnecting:   1,
	models.StateConnected:    2,
	models.StateReconnecting: 3,
	models.StateError:        4,
}

// SetScaleState maps a connection state onto the per-scale gauge and counts
// reconnection attempts.
func (m *Metrics) SetScaleState(id models.ScaleID, state models.ConnectionState) {
	m.ScaleState.WithLabelValues(string(id)).Set(stateValues[state])
	if state == models.StateReconnecting {
		m.ScaleReconnects.WithLabelValues(string(id)).Inc()
	}
}

// ObserveSample records one incoming weight sample.
func (m *Metrics) ObserveSample(sample models.WeightSample) {
	m.SamplesReceived.WithLabelValues(string(sample.ScaleID)).Inc()
	m.CurrentWeight.WithLabelValues(string(sample.ScaleID)).Set(sample.Weight)
}

// ObservePick records a commit outcome with its latency.
func (m *Metrics) ObservePick(source models.WeightSource, took time.Duration, err error) {
	if err != nil {
		m.PicksFailed.WithLabelValues(failureReason(err)).Inc()
		return
	}
	m.PicksCommitted.WithLabelValues(string(source)).Inc()
	m.PickLatency.Observe(took.Seconds())
}

// failureReason buckets a pick failure for the counter label. Cardinality
// stays fixed: tolerance, business, not_found or transport.
func failureReason(err error) string {
	var tolErr *backend.ToleranceError
	var bizErr *backend.BusinessError
	switch {
	case errors.As(err, &tolErr):
		return "tolerance"
	case errors.As(err, &bizErr):
		return "business"
	case errors.Is(err, backend.ErrNotFound):
		return "not_found"
	default:
		return "transport"
	}
}
