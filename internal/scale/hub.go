package scale

import (
	"fmt"
	"sync"

	"partialpick/internal/models"
)

// Hub owns the two scale links and presents a single "active scale" view.
// Both links stay connected independently; switching the active scale is a
// pure read-side change, so it is instantaneous and never races the links.
// The hub is the only writer of the active selection.
type Hub struct {
	mu     sync.RWMutex
	links  map[models.ScaleID]*Link
	active models.ScaleID

	onSample func(models.WeightSample) // active-scale samples only
	onState  func(models.ScaleID, models.ConnectionState)
}

// NewHub wires the SMALL and BIG links into a hub. The small scale starts
// as the active one.
func NewHub(small, big *Link) *Hub {
	h := &Hub{
		links: map[models.ScaleID]*Link{
			models.ScaleSmall: small,
			models.ScaleBig:   big,
		},
		active: models.ScaleSmall,
	}

	for _, link := range h.links {
		link.OnSample(h.routeSample)
		link.OnState(h.routeState)
	}
	return h
}

// ConnectAll opens both links.
func (h *Hub) ConnectAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, link := range h.links {
		link.Connect()
	}
}

// DisconnectAll closes both links.
func (h *Hub) DisconnectAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, link := range h.links {
		link.Disconnect()
	}
}

// OnSample registers the consumer of the active scale's weight stream.
func (h *Hub) OnSample(fn func(models.WeightSample)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSample = fn
}

// OnState registers a read-only observer of per-scale connection health.
func (h *Hub) OnState(fn func(models.ScaleID, models.ConnectionState)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onState = fn
}

// SwitchActive changes which link's samples are surfaced as current. The
// inactive link stays connected so switching back is instantaneous.
func (h *Hub) SwitchActive(id models.ScaleID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.links[id]; !ok {
		return fmt.Errorf("unknown scale %q", id)
	}
	h.active = id
	return nil
}

// Active returns the currently active scale.
func (h *Hub) Active() models.ScaleID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active
}

// ActiveState returns the connection state of the active link.
func (h *Hub) ActiveState() models.ConnectionState {
	h.mu.RLock()
	link := h.links[h.active]
	h.mu.RUnlock()
	return link.State()
}

// CurrentWeight returns the latest sample for the active scale, or the zero
// sentinel when no sample has arrived or the active link is not CONNECTED.
func (h *Hub) CurrentWeight() models.WeightSample {
	h.mu.RLock()
	link := h.links[h.active]
	h.mu.RUnlock()

	if link.State() != models.StateConnected {
		return models.WeightSample{}
	}
	return link.LastSample()
}

// SendCommand routes a command to the named link, or to the active link when
// id is empty. Fails with ErrLinkNotConnected if that link is down; the
// command is not queued.
func (h *Hub) SendCommand(commandType string, id models.ScaleID) error {
	h.mu.RLock()
	if id == "" {
		id = h.active
	}
	link, ok := h.links[id]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown scale %q", id)
	}
	return link.SendCommand(commandType)
}

// States exposes both links' connection states so a UI can show the health
// of both scales at once. Read-only projection, never a decision point.
func (h *Hub) States() map[models.ScaleID]models.ConnectionState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	states := make(map[models.ScaleID]models.ConnectionState, len(h.links))
	for id, link := range h.links {
		states[id] = link.State()
	}
	return states
}

// routeSample forwards samples from whichever link produced them, but only
// the active link's samples reach the hub's consumer. Per-link arrival
// order is preserved; streams are never merged.
func (h *Hub) routeSample(sample models.WeightSample) {
	h.mu.RLock()
	active := h.active
	onSample := h.onSample
	h.mu.RUnlock()

	if sample.ScaleID != active || onSample == nil {
		return
	}
	onSample(sample)
}

func (h *Hub) routeState(id models.ScaleID, state models.ConnectionState) {
	h.mu.RLock()
	onState := h.onState
	h.mu.RUnlock()
	if onState != nil {
		onState(id, state)
	}
}
