package main

import (
	"fmt"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"partialpick/internal/models"
)

var db *gorm.DB

// Run is the run header row. Status moves OPEN -> PRINT when the pallet is
// assigned.
type Run struct {
	gorm.Model
	RunNo    string `gorm:"unique_index"`
	Status   string
	PalletID string
}

// BatchLine is one pickable line of a batch within a run. PickedQty and the
// audit fields are only ever mutated inside a pick or unpick transaction.
type BatchLine struct {
	gorm.Model
	RunNo       string `gorm:"index"`
	RowNum      int
	LineID      int
	ItemKey     string `gorm:"index"`
	BatchNo     string
	TotalNeeded float64
	ToleranceKG float64
	PickedQty   float64
	Status      string
	PickingDate *time.Time
	LotNo       string
	BinNo       string
}

// Lot is on-hand stock of one item in one bin. CommittedQty grows with each
// pick and shrinks with each unpick; AvailableQty never changes here.
type Lot struct {
	gorm.Model
	LotNo        string `gorm:"index"`
	BinNo        string
	ItemKey      string `gorm:"index"`
	ExpiryDate   time.Time
	AvailableQty float64
	CommittedQty float64
	PackSize     float64
	Status       string
}

// LotAllocation binds a committed pick to its lot. ClientRef deduplicates
// retried requests; a replayed POST returns the stored allocation instead of
// committing twice.
type LotAllocation struct {
	gorm.Model
	RunNo         string `gorm:"index"`
	RowNum        int
	LineID        int
	LotNo         string
	BinNo         string
	AllocatedQty  float64
	LotTranNo     string `gorm:"unique_index"`
	ClientRef     string `gorm:"unique_index"`
	WeightSource  string
	WorkstationID string
}

// LedgerEntry is the append-only movement trail. Picks write a negative
// delta, unpicks write the compensating positive one; rows are never updated
// or deleted.
type LedgerEntry struct {
	gorm.Model
	LotTranNo     string `gorm:"index"`
	RunNo         string `gorm:"index"`
	RowNum        int
	LineID        int
	ItemKey       string
	LotNo         string
	BinNo         string
	QtyDelta      float64
	TranType      string
	WorkstationID string
}

// Ledger transaction types
const (
	TranTypePick   = "PICK"
	TranTypeUnpick = "UNPICK"
)

// InitDB opens the database and migrates the schema.
func InitDB(dbPath string) error {
	var err error
	db, err = gorm.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite tolerates one writer; serialize access at the pool.
	db.DB().SetMaxOpenConns(1)

	db.AutoMigrate(
		&Run{},
		&BatchLine{},
		&Lot{},
		&LotAllocation{},
		&LedgerEntry{},
	)
	return nil
}

// CloseDB closes the database connection.
func CloseDB() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

// seedDefaultData creates a demo run with its batches and lots when the
// database is empty, so a fresh checkout serves traffic immediately.
func seedDefaultData(db *gorm.DB) {
	var runCount int64
	db.Model(&Run{}).Count(&runCount)
	if runCount > 0 {
		return
	}

	db.Create(&Run{RunNo: "RUN-1001", Status: models.RunStatusOpen})

	defaultLines := []BatchLine{
		{RunNo: "RUN-1001", RowNum: 1, LineID: 10, ItemKey: "ITM-FLR01", BatchNo: "B2026-081", TotalNeeded: 20.0, ToleranceKG: 0.025, Status: models.ItemStatusOpen},
		{RunNo: "RUN-1001", RowNum: 1, LineID: 11, ItemKey: "ITM-SLT01", BatchNo: "B2026-081", TotalNeeded: 0.5, ToleranceKG: 0.005, Status: models.ItemStatusOpen},
		{RunNo: "RUN-1001", RowNum: 2, LineID: 20, ItemKey: "ITM-SGR01", BatchNo: "B2026-082", TotalNeeded: 5.0, ToleranceKG: 0.010, Status: models.ItemStatusOpen},
	}
	for _, line := range defaultLines {
		db.Create(&line)
	}

	expiry := func(d int) time.Time { return time.Now().AddDate(0, 0, d) }
	defaultLots := []Lot{
		{LotNo: "L24001", BinNo: "A-01-01", ItemKey: "ITM-FLR01", ExpiryDate: expiry(30), AvailableQty: 500, PackSize: 25, Status: models.LotStatusAvailable},
		{LotNo: "L24002", BinNo: "A-01-02", ItemKey: "ITM-FLR01", ExpiryDate: expiry(90), AvailableQty: 750, PackSize: 25, Status: models.LotStatusAvailable},
		{LotNo: "L24010", BinNo: "B-02-01", ItemKey: "ITM-SLT01", ExpiryDate: expiry(365), AvailableQty: 80, PackSize: 10, Status: models.LotStatusAvailable},
		{LotNo: "L24020", BinNo: "B-03-01", ItemKey: "ITM-SGR01", ExpiryDate: expiry(180), AvailableQty: 200, PackSize: 50, Status: models.LotStatusAvailable},
		{LotNo: "L24021", BinNo: "B-03-02", ItemKey: "ITM-SGR01", ExpiryDate: expiry(45), AvailableQty: 60, PackSize: 50, Status: models.LotStatusHold},
	}
	for _, lot := range defaultLots {
		db.Create(&lot)
	}
}

// toBatchItem shapes a stored line into the wire representation with its
// derived fields populated.
func toBatchItem(line BatchLine) models.BatchItem {
	item := models.BatchItem{
		ItemKey:     line.ItemKey,
		BatchNo:     line.BatchNo,
		RowNum:      line.RowNum,
		LineID:      line.LineID,
		TotalNeeded: line.TotalNeeded,
		PickedQty:   line.PickedQty,
		ToleranceKG: line.ToleranceKG,
		Status:      line.Status,
		PickingDate: line.PickingDate,
		LotNo:       line.LotNo,
		BinNo:       line.BinNo,
	}
	item.Recalculate()
	return item
}
