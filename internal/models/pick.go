package models

import "time"

// WeightSource records how a captured weight was obtained.
type WeightSource string

const (
	SourceAutomatic WeightSource = "AUTOMATIC"
	SourceManual    WeightSource = "MANUAL"
)

// PickRecord is the result of a successfully committed pick transaction.
// Immutable once committed; an unpick zeroes the picked quantity on the
// batch item but never erases the record's audit trail.
type PickRecord struct {
	RunNo          string       `json:"runNo"`
	RowNum         int          `json:"rowNum"`
	LineID         int          `json:"lineId"`
	LotNo          string       `json:"lotNo"`
	BinNo          string       `json:"binNo"`
	CapturedWeight float64      `json:"capturedWeight"`
	WeightSource   WeightSource `json:"weightSource"`
	WorkstationID  string       `json:"workstationId"`
	LotTranNo      string       `json:"lotTranNo"`
	CommittedAt    time.Time    `json:"committedAt"`
}
