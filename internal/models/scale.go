package models

import "time"

// ScaleID identifies one of the two configured hardware weighing channels.
type ScaleID string

const (
	ScaleSmall ScaleID = "small"
	ScaleBig   ScaleID = "big"
)

// ConnectionState represents the lifecycle state of a single scale link
type ConnectionState string

const (
	// Connection states
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateError        ConnectionState = "error"
)

// WeightSample is a single raw reading delivered by a scale bridge.
// Samples are immutable once emitted; the Stable flag is the hardware's
// own stability bit, not the settled decision made by the monitor.
type WeightSample struct {
	ScaleID    ScaleID   `json:"scaleId"`
	Weight     float64   `json:"weight"` // kilograms, signed
	Unit       string    `json:"unit"`
	Stable     bool      `json:"stable"`
	ObservedAt time.Time `json:"observedAt"`
}

// IsZero reports whether the sample is the empty sentinel (no reading yet).
func (s WeightSample) IsZero() bool {
	return s.ObservedAt.IsZero()
}

// StableReading is a weight that has held inside the active tolerance
// window for the full settle duration. Superseded by the next reading or
// cleared when the weight leaves the window.
type StableReading struct {
	Weight    float64   `json:"weight"`
	ScaleID   ScaleID   `json:"scaleId"`
	SettledAt time.Time `json:"settledAt"`
}
