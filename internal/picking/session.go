// Package picking holds the session state machine and the atomic pick
// transaction that together orchestrate a partial-picking workflow.
package picking

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"partialpick/internal/backend"
	"partialpick/internal/models"
)

// Session states
const (
	StateNoRun        = "NO_RUN"
	StateRunSelected  = "RUN_SELECTED"
	StateItemSelected = "ITEM_SELECTED"
	StateCapturing    = "CAPTURING"
)

// RunCache is the offline snapshot store beside the session. A nil cache
// disables the offline path.
type RunCache interface {
	Put(snap models.RunSnapshot) error
	Get(runNo string) (models.RunSnapshot, error)
}

// ScaleSource is the live weight view the session gates captures on.
// *scale.Hub satisfies it.
type ScaleSource interface {
	CurrentWeight() models.WeightSample
	ActiveState() models.ConnectionState
}

// View is a read-only copy of the session for display. Mutating it has no
// effect on the session.
type View struct {
	State         string
	WorkstationID string
	Offline       bool
	Run           *models.RunHeader
	Items         []models.BatchItem
	CurrentItem   *models.BatchItem
	Lots          []models.LotCandidate
	SelectedLot   *models.LotCandidate
}

// Session sequences Run -> Item -> Lot selection, gates weight capture
// against the active tolerance window, and delegates commits to the
// transaction runner. All state is owned here and mutated only through the
// session's own operations; one mutating call runs at a time.
type Session struct {
	mu sync.Mutex

	workstationID string
	api           Backend
	tx            *Transaction
	scales        ScaleSource
	cache         RunCache

	busy      bool
	capturing bool
	gen       int
	offline   bool

	run         *models.RunHeader
	items       []models.BatchItem
	currentIdx  int // index into items, -1 when none
	lots        []models.LotCandidate
	selectedLot *models.LotCandidate

	observers []func()
	onOffline func()
}

// NewSession creates a session for one operator terminal. Workstation
// identity is passed in explicitly; the session reads no ambient globals.
func NewSession(workstationID string, api Backend, scales ScaleSource, runCache RunCache) *Session {
	return &Session{
		workstationID: workstationID,
		api:           api,
		tx:            NewTransaction(api, workstationID),
		scales:        scales,
		cache:         runCache,
		currentIdx:    -1,
	}
}

// OnChange registers an observer notified after every applied mutation.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// OnOffline registers a hook fired each time a run selection falls back to
// the offline cache.
func (s *Session) OnOffline(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOffline = fn
}

// State reports the session's position in the picking flow.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() string {
	switch {
	case s.capturing:
		return StateCapturing
	case s.run == nil:
		return StateNoRun
	case s.currentIdx >= 0:
		return StateItemSelected
	default:
		return StateRunSelected
	}
}

// Snapshot returns a read-only copy of the session.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := View{
		State:         s.stateLocked(),
		WorkstationID: s.workstationID,
		Offline:       s.offline,
		Items:         append([]models.BatchItem(nil), s.items...),
		Lots:          append([]models.LotCandidate(nil), s.lots...),
	}
	if s.run != nil {
		run := *s.run
		view.Run = &run
	}
	if s.currentIdx >= 0 {
		item := s.items[s.currentIdx]
		view.CurrentItem = &item
	}
	if s.selectedLot != nil {
		lot := *s.selectedLot
		view.SelectedLot = &lot
	}
	return view
}

// SelectRun fetches the run and all its batches' items, clears any prior
// item/lot selection, and auto-advances to the first fully-unpicked item
// with its FEFO lot loaded. When the backend is unreachable the session
// serves the cached snapshot, if any, and flags itself offline.
func (s *Session) SelectRun(ctx context.Context, runNo string) error {
	if err := s.begin(false); err != nil {
		return err
	}
	defer s.end()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	run, items, err := s.fetchRun(ctx, runNo)
	if err != nil {
		if isTransport(err) {
			if s.installCachedRun(runNo) {
				log.Printf("session %s: backend unreachable, serving run %s from cache", s.workstationID, runNo)
				s.mu.Lock()
				onOffline := s.onOffline
				s.mu.Unlock()
				if onOffline != nil {
					onOffline()
				}
				s.notify()
				return nil
			}
		}
		// Fetch failed and nothing cached: revert to NoRun.
		s.mu.Lock()
		s.clearRunLocked()
		s.mu.Unlock()
		s.notify()
		return err
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return ErrSuperseded
	}
	s.run = run
	s.items = items
	s.currentIdx = -1
	s.lots = nil
	s.selectedLot = nil
	s.offline = false
	s.mu.Unlock()

	s.writeThrough(runNo, run, items)

	// Auto-advance to the first fully-unpicked item, largest picks first.
	for i := range items {
		if !items[i].IsPicked() {
			if err := s.loadItem(ctx, i); err != nil {
				log.Printf("session %s: lot load for %s failed: %v", s.workstationID, items[i].ItemKey, err)
			}
			break
		}
	}

	s.notify()
	return nil
}

// SelectItem resolves an item by key and optional batch number. When
// batchNo is empty and the key appears in several batches, the match with
// the lowest row number, then the lowest line id, wins. Fetches the item's
// FEFO lot candidates and auto-selects the first.
func (s *Session) SelectItem(ctx context.Context, itemKey, batchNo string) error {
	if err := s.begin(false); err != nil {
		return err
	}
	defer s.end()

	s.mu.Lock()
	if s.run == nil {
		s.mu.Unlock()
		return ErrNoRun
	}

	idx := -1
	for i := range s.items {
		if s.items[i].ItemKey != itemKey {
			continue
		}
		if batchNo != "" && s.items[i].BatchNo != batchNo {
			continue
		}
		if idx < 0 || lineBefore(s.items[i], s.items[idx]) {
			idx = i
		}
	}
	s.mu.Unlock()

	if idx < 0 {
		return ErrItemNotFound
	}

	if err := s.loadItem(ctx, idx); err != nil {
		return err
	}
	s.notify()
	return nil
}

// SelectLot manually overrides the FEFO auto-selection. Candidates are not
// refetched.
func (s *Session) SelectLot(lot models.LotCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentIdx < 0 {
		return ErrNoSelection
	}
	s.selectedLot = &lot
	return nil
}

// CanCapture reports whether a capture is currently legal: run, item and
// lot all selected, the active scale CONNECTED, the live weight inside the
// item's tolerance window, and no transaction outstanding.
func (s *Session) CanCapture() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy || s.run == nil || s.currentIdx < 0 || s.selectedLot == nil || s.scales == nil {
		return false
	}
	if s.scales.ActiveState() != models.StateConnected {
		return false
	}
	sample := s.scales.CurrentWeight()
	if sample.IsZero() {
		return false
	}
	return s.items[s.currentIdx].WithinTolerance(sample.Weight)
}

// SavePick commits the captured weight against the selected line. On
// success the whole run is refreshed from the backend (quantities stay
// authoritative, never locally patched) and the item/lot selection is
// cleared so the operator picks the next item explicitly. On failure the
// session is left exactly as it was.
func (s *Session) SavePick(ctx context.Context, weight float64, source models.WeightSource) (*models.PickRecord, error) {
	if err := s.begin(true); err != nil {
		return nil, err
	}
	defer s.end()

	s.mu.Lock()
	if s.offline {
		s.mu.Unlock()
		return nil, ErrOffline
	}
	if s.run == nil || s.currentIdx < 0 || s.selectedLot == nil {
		s.mu.Unlock()
		return nil, ErrNoSelection
	}
	runNo := s.run.RunNo
	item := s.items[s.currentIdx]
	lot := *s.selectedLot
	s.mu.Unlock()

	record, err := s.tx.Save(ctx, runNo, item, lot, weight, source)
	if err != nil {
		return nil, err
	}

	s.refreshAfterCommit(ctx, runNo)
	s.notify()
	return record, nil
}

// UnpickItem reverses the pick on a line. Pass rowNum < 0 to resolve the
// line by id alone. Same refresh-then-clear behavior as SavePick.
func (s *Session) UnpickItem(ctx context.Context, lineID, rowNum int) (*backend.UnpickResponse, error) {
	if err := s.begin(true); err != nil {
		return nil, err
	}
	defer s.end()

	s.mu.Lock()
	if s.offline {
		s.mu.Unlock()
		return nil, ErrOffline
	}
	if s.run == nil {
		s.mu.Unlock()
		return nil, ErrNoRun
	}
	runNo := s.run.RunNo
	if rowNum < 0 {
		for i := range s.items {
			if s.items[i].LineID == lineID {
				rowNum = s.items[i].RowNum
				break
			}
		}
	}
	s.mu.Unlock()

	if rowNum < 0 {
		return nil, ErrItemNotFound
	}

	unpick, err := s.tx.Unpick(ctx, runNo, rowNum, lineID)
	if err != nil {
		return nil, err
	}

	s.refreshAfterCommit(ctx, runNo)
	s.notify()
	return unpick, nil
}

// CompleteRun marks the run complete server-side and flips the local status
// to the terminal PRINT marker. The no-unpicked-items precondition is
// enforced by the backend, not re-derived here.
func (s *Session) CompleteRun(ctx context.Context) (*backend.CompleteResponse, error) {
	if err := s.begin(false); err != nil {
		return nil, err
	}
	defer s.end()

	s.mu.Lock()
	if s.offline {
		s.mu.Unlock()
		return nil, ErrOffline
	}
	if s.run == nil {
		s.mu.Unlock()
		return nil, ErrNoRun
	}
	runNo := s.run.RunNo
	s.mu.Unlock()

	complete, err := s.api.CompleteRun(ctx, runNo, s.workstationID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.run != nil && s.run.RunNo == runNo {
		s.run.Status = models.RunStatusComplete
		s.run.PalletID = complete.PalletID
	}
	s.mu.Unlock()

	s.notify()
	return complete, nil
}

// begin claims the session for one mutating call.
func (s *Session) begin(capture bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	s.capturing = capture
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.busy = false
	s.capturing = false
	s.mu.Unlock()
}

// fetchRun loads the run header and fans out over its batches, joining the
// item lists. A failed batch degrades gracefully: the run stays usable with
// the rows that did load. The combined list is ordered largest picks first.
func (s *Session) fetchRun(ctx context.Context, runNo string) (*models.RunHeader, []models.BatchItem, error) {
	run, err := s.api.GetRun(ctx, runNo)
	if err != nil {
		return nil, nil, err
	}

	var items []models.BatchItem
	for _, rowNum := range run.BatchRows {
		batch, err := s.api.GetBatchItems(ctx, runNo, rowNum)
		if err != nil {
			log.Printf("session %s: batch %d of run %s failed: %v", s.workstationID, rowNum, runNo, err)
			continue
		}
		items = append(items, batch...)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].TotalNeeded != items[j].TotalNeeded {
			return items[i].TotalNeeded > items[j].TotalNeeded
		}
		return items[i].BatchNo > items[j].BatchNo
	})

	return run, items, nil
}

// loadItem selects items[idx] and loads its lot candidates. Changing the
// item always clears the previous lot selection. A failed lot fetch leaves
// the item selected with no candidates.
func (s *Session) loadItem(ctx context.Context, idx int) error {
	s.mu.Lock()
	item := s.items[idx]
	s.currentIdx = idx
	s.lots = nil
	s.selectedLot = nil
	offline := s.offline
	var runNo string
	if s.run != nil {
		runNo = s.run.RunNo
	}
	s.mu.Unlock()

	if offline || item.RemainingQty <= 0 {
		return nil
	}

	lots, err := s.api.GetAvailableLots(ctx, item.ItemKey, runNo, item.RowNum, item.RemainingQty)
	if err != nil {
		return err
	}
	models.SortLotsFEFO(lots)

	s.mu.Lock()
	if s.currentIdx == idx {
		s.lots = lots
		if len(lots) > 0 {
			lot := lots[0]
			s.selectedLot = &lot
		}
	}
	s.mu.Unlock()
	return nil
}

// refreshAfterCommit reloads the run so totals come from the backend, then
// clears the item/lot selection. The commit has already succeeded, so a
// refresh failure is logged rather than returned; the stale view lasts
// until the next SelectRun.
func (s *Session) refreshAfterCommit(ctx context.Context, runNo string) {
	run, items, err := s.fetchRun(ctx, runNo)

	s.mu.Lock()
	if err == nil {
		s.run = run
		s.items = items
	} else {
		log.Printf("session %s: refresh of run %s after commit failed: %v", s.workstationID, runNo, err)
	}
	s.currentIdx = -1
	s.lots = nil
	s.selectedLot = nil
	s.mu.Unlock()

	if err == nil {
		s.writeThrough(runNo, run, items)
	}
}

// installCachedRun serves the session from the offline snapshot, if cached.
func (s *Session) installCachedRun(runNo string) bool {
	if s.cache == nil {
		return false
	}
	snap, err := s.cache.Get(runNo)
	if err != nil {
		// Miss and read failure have the same outcome here.
		log.Printf("session %s: run cache lookup for %s: %v", s.workstationID, runNo, err)
		return false
	}

	s.mu.Lock()
	run := snap.Run
	s.run = &run
	s.items = append([]models.BatchItem(nil), snap.Items...)
	s.currentIdx = -1
	s.lots = nil
	s.selectedLot = nil
	s.offline = true
	s.mu.Unlock()
	return true
}

// writeThrough caches the freshly fetched run for the offline path.
func (s *Session) writeThrough(runNo string, run *models.RunHeader, items []models.BatchItem) {
	if s.cache == nil {
		return
	}
	err := s.cache.Put(models.RunSnapshot{
		RunNo:    runNo,
		Run:      *run,
		Items:    items,
		CachedAt: time.Now(),
	})
	if err != nil {
		log.Printf("session %s: caching run %s failed: %v", s.workstationID, runNo, err)
	}
}

func (s *Session) clearRunLocked() {
	s.run = nil
	s.items = nil
	s.currentIdx = -1
	s.lots = nil
	s.selectedLot = nil
	s.offline = false
}

func (s *Session) notify() {
	s.mu.Lock()
	observers := append(([]func())(nil), s.observers...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn()
	}
}

// lineBefore is the deterministic tie-break for ambiguous item matches:
// lowest row number first, then lowest line id.
func lineBefore(a, b models.BatchItem) bool {
	if a.RowNum != b.RowNum {
		return a.RowNum < b.RowNum
	}
	return a.LineID < b.LineID
}

// isTransport reports whether err is a transport-level failure (backend
// unreachable) rather than a typed backend rejection. Only transport
// failures may fall back to the offline cache.
func isTransport(err error) bool {
	if errors.Is(err, backend.ErrNotFound) {
		return false
	}
	var tolErr *backend.ToleranceError
	var bizErr *backend.BusinessError
	return !errors.As(err, &tolErr) && !errors.As(err, &bizErr)
}
