package models

import (
	"testing"
)

func TestNewBatchItem_DerivedFields(t *testing.T) {
	item := NewBatchItem("ITM-001", "B01", 1, 10, 20.0, 0.025)

	if item.WeightRangeLow != 19.975 {
		t.Errorf("WeightRangeLow = %v, want 19.975", item.WeightRangeLow)
	}
	if item.WeightRangeHigh != 20.025 {
		t.Errorf("WeightRangeHigh = %v, want 20.025", item.WeightRangeHigh)
	}
	if item.RemainingQty != 20.0 {
		t.Errorf("RemainingQty = %v, want 20.0", item.RemainingQty)
	}
	if item.Status != ItemStatusOpen {
		t.Errorf("Status = %q, want %q", item.Status, ItemStatusOpen)
	}
}

func TestBatchItem_WithinTolerance(t *testing.T) {
	item := NewBatchItem("ITM-001", "B01", 1, 10, 20.0, 0.025)

	cases := []struct {
		weight float64
		want   bool
	}{
		{20.0, true},
		{19.975, true},  // lower bound inclusive
		{20.025, true},  // upper bound inclusive
		{20.026, false}, // just above
		{19.974, false}, // just below
		{0, false},
	}

	for _, tc := range cases {
		if got := item.WithinTolerance(tc.weight); got != tc.want {
			t.Errorf("WithinTolerance(%v) = %v, want %v", tc.weight, got, tc.want)
		}
	}
}

func TestBatchItem_Recalculate(t *testing.T) {
	item := NewBatchItem("ITM-001", "B01", 1, 10, 20.0, 0.025)

	item.PickedQty = 20.025
	item.Recalculate()

	if item.RemainingQty != 0 {
		t.Errorf("RemainingQty after over-target pick = %v, want 0", item.RemainingQty)
	}

	item.PickedQty = 5.0
	item.Recalculate()
	if item.RemainingQty != 15.0 {
		t.Errorf("RemainingQty = %v, want 15.0", item.RemainingQty)
	}
	if !item.IsPicked() {
		t.Error("IsPicked() = false after a non-zero pick")
	}
}
