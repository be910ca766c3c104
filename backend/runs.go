package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"partialpick/internal/models"
)

// GetRun handles GET /run/:runNo: the run header with its ordered batch row
// numbers.
func GetRun(c *gin.Context) {
	runNo := c.Param("runNo")

	var run Run
	if db.Where("run_no = ?", runNo).First(&run).RecordNotFound() {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	var rows []int
	db.Model(&BatchLine{}).
		Where("run_no = ?", runNo).
		Order("row_num asc").
		Pluck("distinct row_num", &rows)

	c.JSON(http.StatusOK, models.RunHeader{
		RunNo:     run.RunNo,
		Status:    run.Status,
		PalletID:  run.PalletID,
		BatchRows: rows,
	})
}

// GetBatchItems handles GET /run/:runNo/batches/:rowNum/items.
func GetBatchItems(c *gin.Context) {
	runNo := c.Param("runNo")
	rowNum, err := strconv.Atoi(c.Param("rowNum"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid row number", "code": "BUSINESS"})
		return
	}

	var lines []BatchLine
	db.Where("run_no = ? AND row_num = ?", runNo, rowNum).
		Order("line_id asc").
		Find(&lines)
	if len(lines) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}

	items := make([]models.BatchItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, toBatchItem(line))
	}
	c.JSON(http.StatusOK, items)
}

// GetAvailableLots handles GET /lots/available: FEFO-ordered candidates for
// an item with enough uncommitted stock to cover minQty. Held lots are never
// offered.
func GetAvailableLots(c *gin.Context) {
	itemKey := c.Query("itemKey")
	if itemKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "itemKey is required", "code": "BUSINESS"})
		return
	}
	minQty, _ := strconv.ParseFloat(c.DefaultQuery("minQty", "0"), 64)

	var lots []Lot
	db.Where("item_key = ? AND status = ? AND available_qty - committed_qty >= ?",
		itemKey, models.LotStatusAvailable, minQty).
		Order("expiry_date asc, lot_no asc").
		Find(&lots)

	candidates := make([]models.LotCandidate, 0, len(lots))
	for _, lot := range lots {
		candidates = append(candidates, models.LotCandidate{
			LotNo:        lot.LotNo,
			BinNo:        lot.BinNo,
			ExpiryDate:   lot.ExpiryDate,
			AvailableQty: lot.AvailableQty - lot.CommittedQty,
			PackSize:     lot.PackSize,
			Status:       lot.Status,
		})
	}
	c.JSON(http.StatusOK, candidates)
}

// CompleteRun handles POST /run/:runNo/complete: rejects while unpicked
// lines remain, otherwise assigns the pallet and moves the run to its
// terminal status. Re-completing an already completed run returns the
// existing assignment.
func CompleteRun(c *gin.Context) {
	runNo := c.Param("runNo")

	var run Run
	if db.Where("run_no = ?", runNo).First(&run).RecordNotFound() {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	if run.Status == models.RunStatusComplete {
		c.JSON(http.StatusOK, gin.H{"runNo": run.RunNo, "palletId": run.PalletID, "status": run.Status})
		return
	}

	var unpicked int64
	db.Model(&BatchLine{}).Where("run_no = ? AND picked_qty <= 0", runNo).Count(&unpicked)
	if unpicked > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run has unpicked lines", "code": "BUSINESS"})
		return
	}

	run.Status = models.RunStatusComplete
	run.PalletID = "PAL-" + strconv.Itoa(int(run.ID))
	if err := db.Save(&run).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runNo": run.RunNo, "palletId": run.PalletID, "status": run.Status})
}
