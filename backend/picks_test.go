package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partialpick/internal/models"
)

func setupTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	require.NoError(t, InitDB(":memory:"))
	t.Cleanup(func() { CloseDB() })

	seedDefaultData(db)
	return setupRouter()
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func pickBody(weight float64, clientRef string) map[string]interface{} {
	return map[string]interface{}{
		"runNo":         "RUN-1001",
		"rowNum":        1,
		"lineId":        10,
		"lotNo":         "L24001",
		"binNo":         "A-01-01",
		"weight":        weight,
		"weightSource":  "AUTOMATIC",
		"workstationId": "WS-07",
		"clientRef":     clientRef,
	}
}

func TestGetRun(t *testing.T) {
	router := setupTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/run/RUN-1001", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var run models.RunHeader
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "RUN-1001", run.RunNo)
	assert.Equal(t, models.RunStatusOpen, run.Status)
	assert.Equal(t, []int{1, 2}, run.BatchRows)

	rec = doJSON(t, router, http.MethodGet, "/run/RUN-NOPE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBatchItems(t *testing.T) {
	router := setupTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/run/RUN-1001/batches/1/items", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var items []models.BatchItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)
	assert.Equal(t, "ITM-FLR01", items[0].ItemKey)
	assert.Equal(t, 19.975, items[0].WeightRangeLow)
	assert.Equal(t, 20.025, items[0].WeightRangeHigh)
	assert.Equal(t, 20.0, items[0].RemainingQty)
}

func TestGetAvailableLots_FEFOAndHoldFilter(t *testing.T) {
	router := setupTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/lots/available?itemKey=ITM-SGR01&minQty=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var lots []models.LotCandidate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lots))
	require.Len(t, lots, 1, "the held lot must not be offered")
	assert.Equal(t, "L24020", lots[0].LotNo)

	// A minQty larger than the uncommitted balance filters the lot out.
	rec = doJSON(t, router, http.MethodGet, "/lots/available?itemKey=ITM-SGR01&minQty=500", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lots))
	assert.Empty(t, lots)
}

func TestCreatePick_CommitsAllFourPhases(t *testing.T) {
	router := setupTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/picks", pickBody(20.01, "ref-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	var record models.PickRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, 20.01, record.CapturedWeight)
	assert.NotEmpty(t, record.LotTranNo)

	var alloc LotAllocation
	require.False(t, db.Where("client_ref = ?", "ref-1").First(&alloc).RecordNotFound())
	assert.Equal(t, 20.01, alloc.AllocatedQty)

	var line BatchLine
	db.Where("run_no = ? AND line_id = ?", "RUN-1001", 10).First(&line)
	assert.Equal(t, 20.01, line.PickedQty)
	assert.Equal(t, models.ItemStatusPicked, line.Status)
	require.NotNil(t, line.PickingDate)

	var entries []LedgerEntry
	db.Where("lot_tran_no = ?", record.LotTranNo).Find(&entries)
	require.Len(t, entries, 1)
	assert.Equal(t, TranTypePick, entries[0].TranType)
	assert.Equal(t, -20.01, entries[0].QtyDelta)

	var lot Lot
	db.Where("lot_no = ?", "L24001").First(&lot)
	assert.Equal(t, 20.01, lot.CommittedQty)
}

func TestCreatePick_ToleranceRejection(t *testing.T) {
	router := setupTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/picks", pickBody(20.026, "ref-tol"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "TOLERANCE", body["code"])
	assert.Equal(t, 20.026, body["weight"])
	assert.Equal(t, 19.975, body["low"])
	assert.Equal(t, 20.025, body["high"])

	var line BatchLine
	db.Where("run_no = ? AND line_id = ?", "RUN-1001", 10).First(&line)
	assert.Equal(t, 0.0, line.PickedQty)
}

func TestCreatePick_AlreadyPicked(t *testing.T) {
	router := setupTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/picks", pickBody(20.01, "ref-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/picks", pickBody(20.0, "ref-2"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "already picked")
}

func TestCreatePick_ClientRefReplayDoesNotDoubleCommit(t *testing.T) {
	router := setupTestServer(t)

	first := doJSON(t, router, http.MethodPost, "/picks", pickBody(20.01, "ref-replay"))
	require.Equal(t, http.StatusCreated, first.Code)

	second := doJSON(t, router, http.MethodPost, "/picks", pickBody(20.01, "ref-replay"))
	require.Equal(t, http.StatusCreated, second.Code)

	var a, b models.PickRecord
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.Equal(t, a.LotTranNo, b.LotTranNo, "the replay must return the original transaction")

	var lot Lot
	db.Where("lot_no = ?", "L24001").First(&lot)
	assert.Equal(t, 20.01, lot.CommittedQty, "commitment must not grow on replay")

	var count int64
	db.Model(&LedgerEntry{}).Where("run_no = ?", "RUN-1001").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCreatePick_LateFailureRollsBackEverything(t *testing.T) {
	router := setupTestServer(t)

	// Reference a lot the item does not have: the last phase fails after
	// the line update and ledger insert already ran inside the transaction.
	body := pickBody(20.01, "ref-rollback")
	body["lotNo"] = "L24010"

	rec := doJSON(t, router, http.MethodPost, "/picks", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "lot not available")

	var line BatchLine
	db.Where("run_no = ? AND line_id = ?", "RUN-1001", 10).First(&line)
	assert.Equal(t, 0.0, line.PickedQty, "quantity update must be rolled back")
	assert.Equal(t, models.ItemStatusOpen, line.Status)
	assert.Nil(t, line.PickingDate)

	var allocCount, ledgerCount int64
	db.Model(&LotAllocation{}).Where("run_no = ?", "RUN-1001").Count(&allocCount)
	db.Model(&LedgerEntry{}).Where("run_no = ?", "RUN-1001").Count(&ledgerCount)
	assert.Equal(t, int64(0), allocCount, "allocation must be rolled back")
	assert.Equal(t, int64(0), ledgerCount, "ledger entry must be rolled back")
}

func TestCreatePick_InsufficientLotQuantityRollsBack(t *testing.T) {
	router := setupTestServer(t)

	db.Model(&Lot{}).Where("lot_no = ?", "L24001").Update("available_qty", 10.0)

	rec := doJSON(t, router, http.MethodPost, "/picks", pickBody(20.01, "ref-short"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient quantity")

	var line BatchLine
	db.Where("run_no = ? AND line_id = ?", "RUN-1001", 10).First(&line)
	assert.Equal(t, 0.0, line.PickedQty)
}

func TestDeletePick_ReversesAndPreservesAudit(t *testing.T) {
	router := setupTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/picks", pickBody(20.01, "ref-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/picks/RUN-1001/1/10",
		map[string]string{"workstationId": "WS-07"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		PickedQty   float64    `json:"pickedQty"`
		Status      string     `json:"status"`
		PickingDate *time.Time `json:"pickingDate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0.0, body.PickedQty)
	assert.Equal(t, models.ItemStatusPicked, body.Status, "status survives the unpick")
	assert.NotNil(t, body.PickingDate, "picking date survives the unpick")

	var lot Lot
	db.Where("lot_no = ?", "L24001").First(&lot)
	assert.Equal(t, 0.0, lot.CommittedQty)

	var unpickCount int64
	db.Model(&LedgerEntry{}).Where("tran_type = ?", TranTypeUnpick).Count(&unpickCount)
	assert.Equal(t, int64(1), unpickCount, "the reversal is a new entry, never an update")
}

func TestDeletePick_IdempotenceNoDoubleDecrement(t *testing.T) {
	router := setupTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/picks", pickBody(20.01, "ref-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/picks/RUN-1001/1/10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/picks/RUN-1001/1/10", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var lot Lot
	db.Where("lot_no = ?", "L24001").First(&lot)
	assert.Equal(t, 0.0, lot.CommittedQty, "commitment must not go negative")
}

func TestCompleteRun(t *testing.T) {
	router := setupTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/run/RUN-1001/complete",
		map[string]string{"workstationId": "WS-07"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unpicked")

	// Pick every line, then complete.
	picks := []map[string]interface{}{
		pickBody(20.01, "ref-a"),
		{"runNo": "RUN-1001", "rowNum": 1, "lineId": 11, "lotNo": "L24010", "binNo": "B-02-01",
			"weight": 0.5, "weightSource": "MANUAL", "workstationId": "WS-07", "clientRef": "ref-b"},
		{"runNo": "RUN-1001", "rowNum": 2, "lineId": 20, "lotNo": "L24020", "binNo": "B-03-01",
			"weight": 5.005, "weightSource": "MANUAL", "workstationId": "WS-07", "clientRef": "ref-c"},
	}
	for i, p := range picks {
		rec := doJSON(t, router, http.MethodPost, "/picks", p)
		require.Equal(t, http.StatusCreated, rec.Code, fmt.Sprintf("pick %d: %s", i, rec.Body.String()))
	}

	rec = doJSON(t, router, http.MethodPost, "/run/RUN-1001/complete",
		map[string]string{"workstationId": "WS-07"})
	require.Equal(t, http.StatusOK, rec.Code)

	var complete struct {
		PalletID string `json:"palletId"`
		Status   string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &complete))
	assert.NotEmpty(t, complete.PalletID)
	assert.Equal(t, models.RunStatusComplete, complete.Status)

	// Re-completing returns the same assignment.
	rec = doJSON(t, router, http.MethodPost, "/run/RUN-1001/complete",
		map[string]string{"workstationId": "WS-07"})
	require.Equal(t, http.StatusOK, rec.Code)
	var again struct {
		PalletID string `json:"palletId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.Equal(t, complete.PalletID, again.PalletID)
}
