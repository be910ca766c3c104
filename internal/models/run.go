package models

import "time"

// Run statuses
const (
	RunStatusOpen     = "OPEN"
	RunStatusComplete = "PRINT" // terminal marker set after pallet assignment
)

// RunHeader is the run-level view returned by the backend: status, pallet
// assignment and the ordered row numbers of the run's batches.
type RunHeader struct {
	RunNo     string `json:"runNo"`
	Status    string `json:"status"`
	PalletID  string `json:"palletId,omitempty"`
	BatchRows []int  `json:"batchRows"`
}

// RunSnapshot is the cached view of a run: the header plus the combined
// batch items, stamped with the time it was fetched. Snapshots are never
// updated in place; a refetch replaces the snapshot for that run.
type RunSnapshot struct {
	RunNo    string      `json:"runNo"`
	Run      RunHeader   `json:"run"`
	Items    []BatchItem `json:"items"`
	CachedAt time.Time   `json:"cachedAt"`
}
