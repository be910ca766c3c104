package picking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"

	"partialpick/internal/backend"
	"partialpick/internal/models"
)

// recordingBackend captures the CreatePick request for inspection.
type recordingBackend struct {
	*fakeBackend
	lastPick *backend.PickRequest
}

func (r *recordingBackend) CreatePick(ctx context.Context, req backend.PickRequest) (*models.PickRecord, error) {
	r.lastPick = &req
	return r.fakeBackend.CreatePick(ctx, req)
}

func TestTransaction_SaveStampsRequest(t *testing.T) {
	api := &recordingBackend{fakeBackend: newFakeBackend()}
	tx := NewTransaction(api, "WS-07")

	item := models.NewBatchItem("ITM-A", "B01", 1, 10, 20.0, 0.025)
	lot := models.LotCandidate{LotNo: "L1", BinNo: "BIN-1"}

	record, err := tx.Save(context.Background(), "RUN-1001", item, lot, 20.0, models.SourceAutomatic)
	require.NoError(t, err)
	assert.Equal(t, 20.0, record.CapturedWeight)

	require.NotNil(t, api.lastPick)
	assert.Equal(t, "WS-07", api.lastPick.WorkstationID)
	assert.Equal(t, models.SourceAutomatic, api.lastPick.WeightSource)
	assert.Equal(t, "L1", api.lastPick.LotNo)
	assert.Equal(t, "BIN-1", api.lastPick.BinNo)

	// ClientRef deduplicates retries backend-side; it must be a fresh UUID.
	_, err = uuid.Parse(api.lastPick.ClientRef)
	assert.NoError(t, err)
}

func TestTransaction_SaveOutOfToleranceSkipsBackend(t *testing.T) {
	api := &recordingBackend{fakeBackend: newFakeBackend()}
	tx := NewTransaction(api, "WS-07")

	item := models.NewBatchItem("ITM-A", "B01", 1, 10, 20.0, 0.025)

	for _, weight := range []float64{19.974, 20.026, 0} {
		_, err := tx.Save(context.Background(), "RUN-1001", item, models.LotCandidate{LotNo: "L1"}, weight, models.SourceManual)
		var tolErr *backend.ToleranceError
		require.ErrorAs(t, err, &tolErr, "weight %v", weight)
		assert.Equal(t, weight, tolErr.Weight)
	}
	assert.Nil(t, api.lastPick, "tolerance violations must never reach the backend")
}

func TestTransaction_SaveBoundsAreInclusive(t *testing.T) {
	api := &recordingBackend{fakeBackend: newFakeBackend()}
	tx := NewTransaction(api, "WS-07")

	item := models.NewBatchItem("ITM-A", "B01", 1, 10, 20.0, 0.025)

	_, err := tx.Save(context.Background(), "RUN-1001", item, models.LotCandidate{LotNo: "L1", BinNo: "BIN-1"}, 19.975, models.SourceManual)
	require.NoError(t, err, "the lower bound itself is acceptable")
}

func TestTransaction_UnpickPassthrough(t *testing.T) {
	api := newFakeBackend()
	tx := NewTransaction(api, "WS-07")

	_, err := tx.Save(context.Background(), "RUN-1001",
		models.NewBatchItem("ITM-A", "B01", 1, 10, 20.0, 0.025),
		models.LotCandidate{LotNo: "L1", BinNo: "BIN-1"}, 20.0, models.SourceAutomatic)
	require.NoError(t, err)

	unpick, err := tx.Unpick(context.Background(), "RUN-1001", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0.0, unpick.PickedQty)

	_, err = tx.Unpick(context.Background(), "RUN-1001", 1, 10)
	assert.ErrorIs(t, err, backend.ErrPickNotFound)
}
