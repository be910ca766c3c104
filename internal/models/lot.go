package models

import (
	"sort"
	"time"
)

// Lot statuses
const (
	LotStatusAvailable = "AVAILABLE"
	LotStatusHold      = "HOLD"
)

// LotCandidate represents a lot eligible to be allocated against a batch item.
type LotCandidate struct {
	LotNo        string    `json:"lotNo"`
	BinNo        string    `json:"binNo"`
	ExpiryDate   time.Time `json:"expiryDate"`
	AvailableQty float64   `json:"availableQty"`
	PackSize     float64   `json:"packSize"`
	Status       string    `json:"status"`
}

// SortLotsFEFO orders candidates first-expired-first-out: expiry ascending,
// ties broken by lot number so the order is deterministic. The auto-selected
// lot is always index 0 of the sorted list.
func SortLotsFEFO(lots []LotCandidate) {
	sort.SliceStable(lots, func(i, j int) bool {
		if !lots[i].ExpiryDate.Equal(lots[j].ExpiryDate) {
			return lots[i].ExpiryDate.Before(lots[j].ExpiryDate)
		}
		return lots[i].LotNo < lots[j].LotNo
	})
}
