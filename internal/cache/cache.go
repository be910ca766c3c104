// Package cache holds the terminal-local store of recently fetched run
// snapshots, used to serve the session when the backend is unreachable.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"partialpick/internal/models"
)

// DefaultCapacity is the fixed snapshot budget of the offline cache.
const DefaultCapacity = 5

// ErrCacheMiss is returned when no snapshot is cached for a run. Callers
// decide whether absence is fatal: the online path refetches, the offline
// path surfaces it.
var ErrCacheMiss = errors.New("run not cached")

// cachedRun is the persisted row backing one snapshot. Snapshots are stored
// whole as a JSON blob; they are replaced, never patched.
type cachedRun struct {
	ID       uint      `gorm:"primary_key"`
	RunNo    string    `gorm:"unique_index;not null"`
	Payload  []byte    `gorm:"not null"`
	CachedAt time.Time `gorm:"index;not null"`
}

// OfflineRunCache is a bounded FIFO cache of run snapshots. Eviction is
// strictly oldest-cached-first; writing an already-present run replaces the
// snapshot and refreshes its recency.
type OfflineRunCache struct {
	mu       sync.Mutex
	db       *gorm.DB
	capacity int
}

// Open creates or opens the cache database at path. Use ":memory:" in tests.
func Open(path string) (*OfflineRunCache, error) {
	db, err := gorm.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run cache: %w", err)
	}
	db.DB().SetMaxOpenConns(1)

	if err := db.AutoMigrate(&cachedRun{}).Error; err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate run cache: %w", err)
	}

	return &OfflineRunCache{db: db, capacity: DefaultCapacity}, nil
}

// Close closes the underlying database.
func (c *OfflineRunCache) Close() error {
	return c.db.Close()
}

// Put stores or replaces the snapshot for snap.RunNo, then evicts the
// globally oldest entries until the cache holds at most its capacity.
func (c *OfflineRunCache) Put(snap models.RunSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot for run %s: %w", snap.RunNo, err)
	}

	cachedAt := snap.CachedAt
	if cachedAt.IsZero() {
		cachedAt = time.Now()
	}

	tx := c.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	// Replace-then-insert keeps recency: the rewritten row gets a fresh
	// cache time and a fresh rowid, so it is the newest for eviction.
	if err := tx.Where("run_no = ?", snap.RunNo).Delete(&cachedRun{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Create(&cachedRun{RunNo: snap.RunNo, Payload: payload, CachedAt: cachedAt}).Error; err != nil {
		tx.Rollback()
		return err
	}

	var count int
	if err := tx.Model(&cachedRun{}).Count(&count).Error; err != nil {
		tx.Rollback()
		return err
	}
	for count > c.capacity {
		var oldest cachedRun
		if err := tx.Order("cached_at asc, id asc").First(&oldest).Error; err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Delete(&oldest).Error; err != nil {
			tx.Rollback()
			return err
		}
		count--
	}

	return tx.Commit().Error
}

// Get returns the cached snapshot for runNo, or ErrCacheMiss.
func (c *OfflineRunCache) Get(runNo string) (models.RunSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var row cachedRun
	if err := c.db.Where("run_no = ?", runNo).First(&row).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return models.RunSnapshot{}, ErrCacheMiss
		}
		return models.RunSnapshot{}, err
	}

	var snap models.RunSnapshot
	if err := json.Unmarshal(row.Payload, &snap); err != nil {
		return models.RunSnapshot{}, fmt.Errorf("corrupt snapshot for run %s: %w", runNo, err)
	}
	return snap, nil
}

// Len returns the number of cached snapshots.
func (c *OfflineRunCache) Len() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var count int
	if err := c.db.Model(&cachedRun{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
