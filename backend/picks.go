package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"partialpick/internal/models"
)

// pickRequest is the body of POST /picks.
type pickRequest struct {
	RunNo         string  `json:"runNo" binding:"required"`
	RowNum        int     `json:"rowNum"`
	LineID        int     `json:"lineId"`
	LotNo         string  `json:"lotNo" binding:"required"`
	BinNo         string  `json:"binNo"`
	Weight        float64 `json:"weight"`
	WeightSource  string  `json:"weightSource"`
	WorkstationID string  `json:"workstationId"`
	ClientRef     string  `json:"clientRef"`
}

// CreatePick handles POST /picks. The four phases (lot allocation, quantity
// update, ledger entry, lot commitment) run inside one database transaction:
// a failure in any phase leaves no trace of the others.
func CreatePick(c *gin.Context) {
	var req pickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "BUSINESS"})
		return
	}

	// A replayed request returns the stored allocation instead of
	// committing twice.
	if req.ClientRef != "" {
		var existing LotAllocation
		if !db.Where("client_ref = ?", req.ClientRef).First(&existing).RecordNotFound() {
			c.JSON(http.StatusCreated, allocationToRecord(existing))
			return
		}
	}

	var line BatchLine
	if db.Where("run_no = ? AND row_num = ? AND line_id = ?", req.RunNo, req.RowNum, req.LineID).
		First(&line).RecordNotFound() {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch line not found"})
		return
	}

	if line.PickedQty > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "line already picked", "code": "BUSINESS"})
		return
	}

	item := toBatchItem(line)
	if !item.WithinTolerance(req.Weight) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "weight outside tolerance",
			"code":   "TOLERANCE",
			"weight": req.Weight,
			"low":    item.WeightRangeLow,
			"high":   item.WeightRangeHigh,
		})
		return
	}

	// The reference is unique-indexed; requests that omit it get one so
	// the index never collides on empty strings.
	if req.ClientRef == "" {
		req.ClientRef = uuid.NewString()
	}

	now := time.Now()
	alloc := LotAllocation{
		RunNo:         req.RunNo,
		RowNum:        req.RowNum,
		LineID:        req.LineID,
		LotNo:         req.LotNo,
		BinNo:         req.BinNo,
		AllocatedQty:  req.Weight,
		LotTranNo:     "LT-" + uuid.NewString(),
		ClientRef:     req.ClientRef,
		WeightSource:  req.WeightSource,
		WorkstationID: req.WorkstationID,
	}

	tx := db.Begin()
	if tx.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": tx.Error.Error()})
		return
	}

	// Phase 1: allocate the lot to the line.
	if err := tx.Create(&alloc).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Phase 2: write the picked quantity onto the line.
	updates := map[string]interface{}{
		"picked_qty":   req.Weight,
		"status":       models.ItemStatusPicked,
		"picking_date": &now,
		"lot_no":       req.LotNo,
		"bin_no":       req.BinNo,
	}
	if err := tx.Model(&BatchLine{}).Where("id = ?", line.ID).Updates(updates).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Phase 3: append the movement to the ledger.
	entry := LedgerEntry{
		LotTranNo:     alloc.LotTranNo,
		RunNo:         req.RunNo,
		RowNum:        req.RowNum,
		LineID:        req.LineID,
		ItemKey:       line.ItemKey,
		LotNo:         req.LotNo,
		BinNo:         req.BinNo,
		QtyDelta:      -req.Weight,
		TranType:      TranTypePick,
		WorkstationID: req.WorkstationID,
	}
	if err := tx.Create(&entry).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Phase 4: commit the quantity against the lot. An ineligible or
	// exhausted lot rolls the whole pick back.
	var lot Lot
	if tx.Where("lot_no = ? AND item_key = ? AND status = ?", req.LotNo, line.ItemKey, models.LotStatusAvailable).
		First(&lot).RecordNotFound() {
		tx.Rollback()
		c.JSON(http.StatusBadRequest, gin.H{"error": "lot not available", "code": "BUSINESS"})
		return
	}
	if lot.AvailableQty-lot.CommittedQty < req.Weight {
		tx.Rollback()
		c.JSON(http.StatusBadRequest, gin.H{"error": "insufficient quantity in lot", "code": "BUSINESS"})
		return
	}
	if err := tx.Model(&Lot{}).Where("id = ?", lot.ID).
		Update("committed_qty", lot.CommittedQty+req.Weight).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := tx.Commit().Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, models.PickRecord{
		RunNo:          req.RunNo,
		RowNum:         req.RowNum,
		LineID:         req.LineID,
		LotNo:          req.LotNo,
		BinNo:          req.BinNo,
		CapturedWeight: req.Weight,
		WeightSource:   models.WeightSource(req.WeightSource),
		WorkstationID:  req.WorkstationID,
		LotTranNo:      alloc.LotTranNo,
		CommittedAt:    now,
	})
}

// DeletePick handles DELETE /picks/:runNo/:rowNum/:lineId. The reversal is
// transactional like the pick itself: quantity back to zero, allocation
// removed, compensating ledger entry, lot commitment decremented. The line's
// status and picking date survive for audit. An already-unpicked line is a
// 404, never a second decrement.
func DeletePick(c *gin.Context) {
	runNo := c.Param("runNo")
	rowNum, err1 := strconv.Atoi(c.Param("rowNum"))
	lineID, err2 := strconv.Atoi(c.Param("lineId"))
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid line reference", "code": "BUSINESS"})
		return
	}

	var body struct {
		WorkstationID string `json:"workstationId"`
	}
	_ = c.ShouldBindJSON(&body)

	var alloc LotAllocation
	if db.Where("run_no = ? AND row_num = ? AND line_id = ?", runNo, rowNum, lineID).
		First(&alloc).RecordNotFound() {
		c.JSON(http.StatusNotFound, gin.H{"error": "pick not found"})
		return
	}

	var line BatchLine
	if db.Where("run_no = ? AND row_num = ? AND line_id = ?", runNo, rowNum, lineID).
		First(&line).RecordNotFound() {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch line not found"})
		return
	}

	tx := db.Begin()
	if tx.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": tx.Error.Error()})
		return
	}

	if err := tx.Model(&BatchLine{}).Where("id = ?", line.ID).
		Update("picked_qty", 0).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := tx.Delete(&alloc).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	entry := LedgerEntry{
		LotTranNo:     alloc.LotTranNo,
		RunNo:         runNo,
		RowNum:        rowNum,
		LineID:        lineID,
		ItemKey:       line.ItemKey,
		LotNo:         alloc.LotNo,
		BinNo:         alloc.BinNo,
		QtyDelta:      alloc.AllocatedQty,
		TranType:      TranTypeUnpick,
		WorkstationID: body.WorkstationID,
	}
	if err := tx.Create(&entry).Error; err != nil {
		tx.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var lot Lot
	if !tx.Where("lot_no = ? AND item_key = ?", alloc.LotNo, line.ItemKey).First(&lot).RecordNotFound() {
		if err := tx.Model(&Lot{}).Where("id = ?", lot.ID).
			Update("committed_qty", lot.CommittedQty-alloc.AllocatedQty).Error; err != nil {
			tx.Rollback()
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	if err := tx.Commit().Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runNo":       runNo,
		"rowNum":      rowNum,
		"lineId":      lineID,
		"pickedQty":   0,
		"status":      line.Status,
		"pickingDate": line.PickingDate,
	})
}

// allocationToRecord rebuilds the pick record a replayed request receives.
func allocationToRecord(alloc LotAllocation) models.PickRecord {
	return models.PickRecord{
		RunNo:          alloc.RunNo,
		RowNum:         alloc.RowNum,
		LineID:         alloc.LineID,
		LotNo:          alloc.LotNo,
		BinNo:          alloc.BinNo,
		CapturedWeight: alloc.AllocatedQty,
		WeightSource:   models.WeightSource(alloc.WeightSource),
		WorkstationID:  alloc.WorkstationID,
		LotTranNo:      alloc.LotTranNo,
		CommittedAt:    alloc.CreatedAt,
	}
}
