package models

import "time"

// Batch item statuses
const (
	ItemStatusOpen   = "OPEN"
	ItemStatusPicked = "PICKED"
)

// BatchItem represents one pickable line of a batch within a run.
// The weight window is always derived from TotalNeeded and ToleranceKG,
// and RemainingQty is always TotalNeeded minus PickedQty.
type BatchItem struct {
	ItemKey         string     `json:"itemKey"`
	BatchNo         string     `json:"batchNo"`
	RowNum          int        `json:"rowNum"`
	LineID          int        `json:"lineId"`
	TotalNeeded     float64    `json:"totalNeeded"`
	PickedQty       float64    `json:"pickedQty"`
	RemainingQty    float64    `json:"remainingQty"`
	WeightRangeLow  float64    `json:"weightRangeLow"`
	WeightRangeHigh float64    `json:"weightRangeHigh"`
	ToleranceKG     float64    `json:"toleranceKg"`
	Status          string     `json:"status"`
	PickingDate     *time.Time `json:"pickingDate,omitempty"`
	LotNo           string     `json:"lotNo,omitempty"`
	BinNo           string     `json:"binNo,omitempty"`
}

// NewBatchItem builds a batch item with its derived fields populated.
func NewBatchItem(itemKey, batchNo string, rowNum, lineID int, totalNeeded, toleranceKG float64) BatchItem {
	item := BatchItem{
		ItemKey:     itemKey,
		BatchNo:     batchNo,
		RowNum:      rowNum,
		LineID:      lineID,
		TotalNeeded: totalNeeded,
		ToleranceKG: toleranceKG,
		Status:      ItemStatusOpen,
	}
	item.Recalculate()
	return item
}

// Recalculate re-derives RemainingQty and the tolerance window from the
// authoritative fields. Call after any quantity mutation.
func (b *BatchItem) Recalculate() {
	b.RemainingQty = b.TotalNeeded - b.PickedQty
	if b.RemainingQty < 0 {
		b.RemainingQty = 0
	}
	b.WeightRangeLow = b.TotalNeeded - b.ToleranceKG
	b.WeightRangeHigh = b.TotalNeeded + b.ToleranceKG
}

// WithinTolerance reports whether w lies inside the weight window, inclusive.
func (b *BatchItem) WithinTolerance(w float64) bool {
	return w >= b.WeightRangeLow && w <= b.WeightRangeHigh
}

// IsPicked reports whether any quantity has been committed against the line.
func (b *BatchItem) IsPicked() bool {
	return b.PickedQty > 0
}
