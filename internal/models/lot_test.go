package models

import (
	"testing"
	"time"
)

func TestSortLotsFEFO(t *testing.T) {
	day := func(d int) time.Time {
		return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC)
	}

	lots := []LotCandidate{
		{LotNo: "L3", ExpiryDate: day(20)},
		{LotNo: "L1", ExpiryDate: day(5)},
		{LotNo: "L4", ExpiryDate: day(5)}, // ties on expiry, L1 must win
		{LotNo: "L2", ExpiryDate: day(12)},
	}

	SortLotsFEFO(lots)

	wantOrder := []string{"L1", "L4", "L2", "L3"}
	for i, want := range wantOrder {
		if lots[i].LotNo != want {
			t.Errorf("lots[%d].LotNo = %q, want %q", i, lots[i].LotNo, want)
		}
	}

	for i := 1; i < len(lots); i++ {
		if lots[i].ExpiryDate.Before(lots[i-1].ExpiryDate) {
			t.Errorf("lots not in expiry-ascending order at index %d", i)
		}
	}
}
