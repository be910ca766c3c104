package picking

import (
	"context"

	"github.com/google/uuid"

	"partialpick/internal/backend"
	"partialpick/internal/models"
)

// Backend is the picking API the orchestrator consumes. *backend.Client
// satisfies it; tests substitute an in-memory fake.
type Backend interface {
	GetRun(ctx context.Context, runNo string) (*models.RunHeader, error)
	GetBatchItems(ctx context.Context, runNo string, rowNum int) ([]models.BatchItem, error)
	GetAvailableLots(ctx context.Context, itemKey, runNo string, rowNum int, minQty float64) ([]models.LotCandidate, error)
	CreatePick(ctx context.Context, req backend.PickRequest) (*models.PickRecord, error)
	DeletePick(ctx context.Context, runNo string, rowNum, lineID int, workstationID string) (*backend.UnpickResponse, error)
	CompleteRun(ctx context.Context, runNo, workstationID string) (*backend.CompleteResponse, error)
}

// Transaction commits or reverses a single pick as one all-or-nothing unit.
// The backend applies the four phases (lot allocation, quantity update,
// ledger entry, lot commitment) inside one database transaction, so from
// here a pick is a single call that either returns a populated PickRecord
// or fails with no partial state change.
type Transaction struct {
	api           Backend
	workstationID string
}

// NewTransaction creates the transaction runner for one workstation.
func NewTransaction(api Backend, workstationID string) *Transaction {
	return &Transaction{api: api, workstationID: workstationID}
}

// Save validates the captured weight against the item's tolerance window
// and commits the pick. A tolerance violation fails locally, carrying the
// offending value and both bounds, and triggers no backend call.
func (t *Transaction) Save(ctx context.Context, runNo string, item models.BatchItem, lot models.LotCandidate, weight float64, source models.WeightSource) (*models.PickRecord, error) {
	if !item.WithinTolerance(weight) {
		return nil, &backend.ToleranceError{
			Weight: weight,
			Low:    item.WeightRangeLow,
			High:   item.WeightRangeHigh,
		}
	}

	return t.api.CreatePick(ctx, backend.PickRequest{
		RunNo:         runNo,
		RowNum:        item.RowNum,
		LineID:        item.LineID,
		LotNo:         lot.LotNo,
		BinNo:         lot.BinNo,
		Weight:        weight,
		WeightSource:  source,
		WorkstationID: t.workstationID,
		ClientRef:     uuid.NewString(),
	})
}

// Unpick reverses a committed pick. The quantity returns to zero and the
// lot commitment is decremented while the line's status and picking date
// are preserved. Re-issuing for an already-unpicked line surfaces
// backend.ErrPickNotFound and never double-decrements.
func (t *Transaction) Unpick(ctx context.Context, runNo string, rowNum, lineID int) (*backend.UnpickResponse, error) {
	return t.api.DeletePick(ctx, runNo, rowNum, lineID, t.workstationID)
}
