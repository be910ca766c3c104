// Command bridge simulates the hardware bridge two weighing scales hang off:
// it serves the scale wire protocol over WebSocket so the terminal can be
// exercised without load cells on the bench.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// frame is the wire envelope both directions share.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type weightData struct {
	ScaleID   string  `json:"scaleId"`
	Weight    float64 `json:"weight"`
	Unit      string  `json:"unit"`
	Stable    bool    `json:"stable"`
	Timestamp int64   `json:"timestamp"`
}

type statusData struct {
	Connected bool   `json:"connected"`
	ScaleID   string `json:"scaleId"`
	Port      string `json:"port,omitempty"`
}

type commandData struct {
	Type    string `json:"type"`
	ScaleID string `json:"scaleId,omitempty"`
}

// scaleSim is one simulated load cell. The weight drifts toward a target
// with jitter; the stable flag goes up once the drift has mostly died out.
type scaleSim struct {
	mu      sync.Mutex
	scaleID string
	weight  float64
	target  float64
	rng     *rand.Rand
}

func newScaleSim(scaleID string, capacity float64) *scaleSim {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &scaleSim{
		scaleID: scaleID,
		target:  capacity * (0.2 + 0.6*rng.Float64()),
		rng:     rng,
	}
}

// tick advances the simulation one sample interval and returns the frame
// payload to send.
func (s *scaleSim) tick() weightData {
	s.mu.Lock()
	defer s.mu.Unlock()

	gap := s.target - s.weight
	s.weight += gap*0.3 + s.rng.Float64()*0.004 - 0.002
	if s.weight < 0 {
		s.weight = 0
	}

	stable := gap < 0.01 && gap > -0.01
	return weightData{
		ScaleID:   s.scaleID,
		Weight:    s.weight,
		Unit:      "kg",
		Stable:    stable,
		Timestamp: time.Now().UnixMilli(),
	}
}

// handleCommand applies a terminal command to the simulated cell.
func (s *scaleSim) handleCommand(cmd string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd {
	case "tare":
		s.weight = 0
		s.target = 0
	case "reset":
		s.target = 5 + 20*s.rng.Float64()
	case "calibrate":
		// Nothing to calibrate in simulation; acknowledged silently.
	default:
		log.Printf("scale %s: unknown command %q", s.scaleID, cmd)
	}
}

// wsConn maintains one terminal connection: readPump consumes commands,
// writePump serializes all outbound frames, samplePump generates readings.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	sim  *scaleSim
}

func handleScaleSocket(c *gin.Context) {
	scaleID := c.DefaultQuery("scale", "small")
	if scaleID != "small" && scaleID != "big" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scale must be small or big"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	capacity := 30.0
	if scaleID == "big" {
		capacity = 300.0
	}

	ws := &wsConn{
		conn: conn,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
		sim:  newScaleSim(scaleID, capacity),
	}

	ws.sendFrame("status", statusData{Connected: true, ScaleID: scaleID, Port: "sim:" + scaleID})

	go ws.writePump()
	go ws.samplePump()
	go ws.readPump()
}

// readPump pumps command frames from the terminal to the simulator.
func (c *wsConn) readPump() {
	defer func() {
		c.conn.Close()
		close(c.done)
	}()

	c.conn.SetReadLimit(64 * 1024)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump pumps frames from the simulator to the WebSocket connection.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// samplePump streams weight frames at the cell's native sample rate.
func (c *wsConn) samplePump() {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		if !c.sendFrame("weight", c.sim.tick()) {
			return
		}
	}
}

// handleMessage processes one inbound command frame.
func (c *wsConn) handleMessage(message []byte) {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		log.Printf("Error unmarshaling message: %v", err)
		return
	}
	if f.Type != "command" {
		log.Printf("scale %s: ignoring frame type %q", c.sim.scaleID, f.Type)
		return
	}

	var cmd commandData
	if err := json.Unmarshal(f.Data, &cmd); err != nil {
		log.Printf("Error unmarshaling command: %v", err)
		return
	}
	c.sim.handleCommand(cmd.Type)
}

// sendFrame queues one frame for the write pump; reports false once the
// connection is gone.
func (c *wsConn) sendFrame(frameType string, payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshaling frame: %v", err)
		return true
	}
	raw, _ := json.Marshal(frame{Type: frameType, Data: data})

	select {
	case <-c.done:
		return false
	case c.send <- raw:
		return true
	default:
		log.Println("WebSocket buffer full, dropping frame")
		return true
	}
}

func main() {
	addr := flag.String("addr", ":9000", "listen address")
	flag.Parse()

	router := gin.Default()
	router.GET("/ws", handleScaleSocket)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	log.Printf("scale bridge listening on %s", *addr)
	if err := router.Run(*addr); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
