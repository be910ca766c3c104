package scale

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"partialpick/internal/models"
)

// ErrLinkNotConnected is returned when a command is issued to a link that is
// not currently CONNECTED. Commands are never queued; the caller retries.
var ErrLinkNotConnected = errors.New("scale link not connected")

// Defaults for the reconnect policy
const (
	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffCap  = 30 * time.Second
	DefaultMaxRetries  = 10
)

// LinkConfig configures a single scale link.
type LinkConfig struct {
	URL         string
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxRetries  int
}

// Link maintains one streaming connection to a single scale bridge and
// surfaces typed weight/status events. Each link reconnects independently
// with bounded exponential backoff; exhausting the retry ceiling parks the
// link in StateError until an explicit Connect.
type Link struct {
	id  models.ScaleID
	cfg LinkConfig

	mu         sync.Mutex
	conn       *websocket.Conn
	state      models.ConnectionState
	attempt    int
	gen        int // connection generation; stale goroutines check it and bail
	retryTimer *time.Timer
	lastSample models.WeightSample

	onSample func(models.WeightSample)
	onState  func(models.ScaleID, models.ConnectionState)
	onError  func(models.ScaleID, string)

	pendingStates []models.ConnectionState
	draining      bool
}

// NewLink creates a link for one scale endpoint. Zero config fields fall
// back to the package defaults.
func NewLink(id models.ScaleID, cfg LinkConfig) *Link {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Link{
		id:    id,
		cfg:   cfg,
		state: models.StateDisconnected,
	}
}

// ID returns the scale this link serves.
func (l *Link) ID() models.ScaleID { return l.id }

// OnSample registers the handler invoked for each decoded weight sample,
// in arrival order.
func (l *Link) OnSample(fn func(models.WeightSample)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onSample = fn
}

// OnState registers the handler invoked on every connection state change.
func (l *Link) OnState(fn func(models.ScaleID, models.ConnectionState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onState = fn
}

// OnError registers the handler for bridge-level error messages.
func (l *Link) OnError(fn func(models.ScaleID, string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onError = fn
}

// State returns the current connection state.
func (l *Link) State() models.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// LastSample returns the most recent weight sample, or the zero sentinel if
// none has arrived since the link last connected.
func (l *Link) LastSample() models.WeightSample {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSample
}

// Connect opens the channel. It is idempotent: a no-op while the link is
// already CONNECTING or CONNECTED. An explicit Connect also revives a link
// parked in StateError, with a fresh retry budget.
func (l *Link) Connect() {
	l.mu.Lock()
	if l.state == models.StateConnecting || l.state == models.StateConnected {
		l.mu.Unlock()
		return
	}
	l.stopRetryLocked()
	l.attempt = 0
	l.gen++
	gen := l.gen
	l.setStateLocked(models.StateConnecting)
	l.mu.Unlock()

	go l.dial(gen)
}

// Disconnect closes the channel and cancels any pending reconnect. The last
// known sample is cleared so stale data is never presented as live.
func (l *Link) Disconnect() {
	l.mu.Lock()
	l.gen++
	l.stopRetryLocked()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.lastSample = models.WeightSample{}
	l.attempt = 0
	l.setStateLocked(models.StateDisconnected)
	l.mu.Unlock()
}

// SendCommand routes a tare/calibrate/reset command to the bridge. Fails
// immediately when the link is not CONNECTED.
func (l *Link) SendCommand(commandType string) error {
	msg, err := encodeCommand(l.id, commandType)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != models.StateConnected || l.conn == nil {
		return ErrLinkNotConnected
	}
	return l.conn.WriteJSON(msg)
}

// dial opens the websocket and hands the connection to the read loop.
func (l *Link) dial(gen int) {
	conn, _, err := websocket.DefaultDialer.Dial(l.cfg.URL, nil)

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		log.Printf("scale %s: dial %s failed: %v", l.id, l.cfg.URL, err)
		l.scheduleReconnectLocked(gen)
		l.mu.Unlock()
		return
	}

	l.conn = conn
	// A successful open resets the retry budget so an isolated outage does
	// not compound into long waits on the next one.
	l.attempt = 0
	l.setStateLocked(models.StateConnected)
	l.mu.Unlock()

	go l.readLoop(conn, gen)
}

// readLoop pumps frames from the bridge until the connection dies.
func (l *Link) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("scale %s: websocket error: %v", l.id, err)
			}
			break
		}
		l.handleFrame(message)
	}

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return
	}
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.lastSample = models.WeightSample{}
	l.scheduleReconnectLocked(gen)
	l.mu.Unlock()
}

// handleFrame decodes one inbound frame. Malformed payloads are logged and
// dropped; they never take the link down.
func (l *Link) handleFrame(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("scale %s: dropping malformed frame: %v", l.id, err)
		return
	}

	switch msg.Type {
	case kindWeight:
		sample, err := decodeWeight(l.id, msg.Data)
		if err != nil {
			log.Printf("scale %s: dropping malformed weight: %v", l.id, err)
			return
		}
		l.mu.Lock()
		l.lastSample = sample
		onSample := l.onSample
		l.mu.Unlock()
		if onSample != nil {
			onSample(sample)
		}
	case kindStatus:
		var p StatusPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			log.Printf("scale %s: dropping malformed status: %v", l.id, err)
			return
		}
		if p.Port != "" {
			log.Printf("scale %s: bridge status connected=%v port=%s", l.id, p.Connected, p.Port)
		}
		if p.Error != "" {
			l.emitError(p.Error)
		}
	case kindError:
		var p ErrorPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			log.Printf("scale %s: dropping malformed error frame: %v", l.id, err)
			return
		}
		l.emitError(p.Message)
	default:
		log.Printf("scale %s: dropping unknown frame type %q", l.id, msg.Type)
	}
}

func (l *Link) emitError(message string) {
	l.mu.Lock()
	onError := l.onError
	l.mu.Unlock()
	if onError != nil {
		onError(l.id, message)
	}
}

// scheduleReconnectLocked arms the backoff timer for the next attempt, or
// parks the link in StateError once the ceiling is exceeded. Caller holds mu.
func (l *Link) scheduleReconnectLocked(gen int) {
	if l.attempt >= l.cfg.MaxRetries {
		l.setStateLocked(models.StateError)
		return
	}

	delay := backoffDelay(l.cfg.BackoffBase, l.cfg.BackoffCap, l.attempt)
	l.attempt++
	l.setStateLocked(models.StateReconnecting)

	l.retryTimer = time.AfterFunc(delay, func() {
		l.mu.Lock()
		if gen != l.gen {
			l.mu.Unlock()
			return
		}
		l.setStateLocked(models.StateConnecting)
		l.mu.Unlock()
		l.dial(gen)
	})
}

func (l *Link) stopRetryLocked() {
	if l.retryTimer != nil {
		l.retryTimer.Stop()
		l.retryTimer = nil
	}
}

// setStateLocked records the transition and queues the notification. A
// single drainer goroutine delivers queued transitions in order, outside
// the lock, so observers never see CONNECTING after CONNECTED.
func (l *Link) setStateLocked(state models.ConnectionState) {
	if l.state == state {
		return
	}
	l.state = state
	if l.onState == nil {
		return
	}
	l.pendingStates = append(l.pendingStates, state)
	if !l.draining {
		l.draining = true
		go l.drainStates()
	}
}

func (l *Link) drainStates() {
	for {
		l.mu.Lock()
		if len(l.pendingStates) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}
		state := l.pendingStates[0]
		l.pendingStates = l.pendingStates[1:]
		onState := l.onState
		l.mu.Unlock()

		if onState != nil {
			onState(l.id, state)
		}
	}
}

// backoffDelay is min(base * 2^attempt, cap).
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}
