package scale

import (
	"encoding/json"
	"fmt"
	"time"

	"partialpick/internal/models"
)

// Message kinds on the bridge channel
const (
	kindWeight  = "weight"
	kindStatus  = "status"
	kindError   = "error"
	kindCommand = "command"
)

// Outbound command types
const (
	CommandTare      = "tare"
	CommandCalibrate = "calibrate"
	CommandReset     = "reset"
)

// Message is the wire envelope exchanged with a scale bridge.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WeightPayload carries one raw reading from the hardware.
type WeightPayload struct {
	ScaleID   string  `json:"scaleId"`
	Weight    float64 `json:"weight"`
	Unit      string  `json:"unit"`
	Stable    bool    `json:"stable"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
}

// StatusPayload carries link health and port information from the bridge.
type StatusPayload struct {
	Connected bool   `json:"connected"`
	ScaleID   string `json:"scaleId"`
	Port      string `json:"port,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ErrorPayload carries a bridge-level error string. It is surfaced to the
// link's error handler but does not itself force a disconnect.
type ErrorPayload struct {
	Message string `json:"message"`
}

// CommandPayload is the outbound tare/calibrate/reset request.
type CommandPayload struct {
	Type    string `json:"type"`
	ScaleID string `json:"scaleId"`
}

// decodeWeight converts a weight payload into a typed sample attributed to
// the owning link's scale, regardless of what the payload claims.
func decodeWeight(id models.ScaleID, data json.RawMessage) (models.WeightSample, error) {
	var p WeightPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return models.WeightSample{}, fmt.Errorf("weight payload: %w", err)
	}
	observed := time.Now()
	if p.Timestamp > 0 {
		observed = time.UnixMilli(p.Timestamp)
	}
	unit := p.Unit
	if unit == "" {
		unit = "kg"
	}
	return models.WeightSample{
		ScaleID:    id,
		Weight:     p.Weight,
		Unit:       unit,
		Stable:     p.Stable,
		ObservedAt: observed,
	}, nil
}

// encodeCommand builds the outbound command envelope of the bridge protocol.
func encodeCommand(id models.ScaleID, commandType string) (Message, error) {
	data, err := json.Marshal(CommandPayload{Type: commandType, ScaleID: string(id)})
	if err != nil {
		return Message{}, err
	}
	return Message{Type: kindCommand, Data: data}, nil
}
