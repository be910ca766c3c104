package backend

import (
	"errors"
	"fmt"
)

// Error codes carried in 400 response bodies
const (
	CodeTolerance = "TOLERANCE"
	CodeBusiness  = "BUSINESS"
)

// ErrNotFound marks a run, batch, lot or pick the backend does not know.
// Distinct from rejection so callers can tell "doesn't exist" apart from
// "rejected".
var ErrNotFound = errors.New("not found")

// ErrPickNotFound marks an unpick issued against a line with nothing to
// reverse. Safe to treat as a no-op at the caller.
var ErrPickNotFound = fmt.Errorf("pick %w", ErrNotFound)

// ToleranceError is a validation failure: the captured weight fell outside
// the item's tolerance window. Never retried automatically; the operator
// must re-capture.
type ToleranceError struct {
	Weight float64 `json:"weight"`
	Low    float64 `json:"low"`
	High   float64 `json:"high"`
}

func (e *ToleranceError) Error() string {
	return fmt.Sprintf("weight %.3f outside tolerance [%.3f, %.3f]", e.Weight, e.Low, e.High)
}

// BusinessError is a rule rejection surfaced verbatim from the backend
// (item already picked, lot not eligible, run not complete, ...).
type BusinessError struct {
	Message string `json:"message"`
}

func (e *BusinessError) Error() string {
	return e.Message
}

// errorBody is the JSON error envelope used by the picking backend.
type errorBody struct {
	Error  string  `json:"error"`
	Code   string  `json:"code,omitempty"`
	Weight float64 `json:"weight,omitempty"`
	Low    float64 `json:"low,omitempty"`
	High   float64 `json:"high,omitempty"`
}
