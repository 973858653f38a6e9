// Package ingest accepts live detection batches pushed by remote detectors
// over websocket and forwards them to the overlay's live mailbox.
package ingest

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-overlay/internal/log"
	"github.com/teslashibe/go-overlay/pkg/annotation"
	"github.com/teslashibe/go-overlay/pkg/protocol"
)

// Sink receives detection batches. live.Mailbox satisfies it.
type Sink interface {
	Put(dets []annotation.LiveDetection)
}

// Detector is a connected remote detector.
type Detector struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time

	mu       sync.Mutex
	lastSeen time.Time
	batches  uint64
}

// Send sends a message to the detector
func (d *Detector) Send(msg *protocol.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	return d.Conn.WriteMessage(websocket.TextMessage, data)
}

func (d *Detector) seen(batch bool) {
	d.mu.Lock()
	d.lastSeen = time.Now()
	if batch {
		d.batches++
	}
	d.mu.Unlock()
}

// Hub manages websocket connections from remote detectors.
type Hub struct {
	mu        sync.RWMutex
	detectors map[string]*Detector
	sink      Sink
	logger    *slog.Logger

	messagesReceived atomic.Uint64
	batchesReceived  atomic.Uint64
	rejected         atomic.Uint64
}

// NewHub creates a detector hub that forwards batches to sink.
func NewHub(sink Sink) *Hub {
	return &Hub{
		detectors: make(map[string]*Detector),
		sink:      sink,
		logger:    log.With("component", "ingest"),
	}
}

// RegisterRoutes registers the detector websocket routes on a Fiber app.
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws/detections", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/detections", websocket.New(h.handleDetector))
	app.Get("/ws/detections/:id", websocket.New(h.handleDetector))
}

// handleDetector handles one detector connection.
func (h *Hub) handleDetector(c *websocket.Conn) {
	id := c.Params("id")
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now()
	det := &Detector{ID: id, Conn: c, Connected: now, lastSeen: now}

	h.mu.Lock()
	h.detectors[id] = det
	count := len(h.detectors)
	h.mu.Unlock()
	h.logger.Info("detector connected", "id", id, "detectors", count)

	defer func() {
		h.mu.Lock()
		if h.detectors[id] == det {
			delete(h.detectors, id)
		}
		count := len(h.detectors)
		h.mu.Unlock()
		h.logger.Info("detector disconnected", "id", id, "detectors", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("detector read error", "id", id, "error", err)
			return
		}
		h.messagesReceived.Add(1)
		h.handleMessage(det, data)
	}
}

// handleMessage processes one message from a detector.
func (h *Hub) handleMessage(det *Detector, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.rejected.Add(1)
		h.logger.Debug("parse error", "id", det.ID, "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeDetections:
		batch, err := msg.GetDetectionsData()
		if err != nil {
			h.rejected.Add(1)
			h.logger.Debug("bad detections payload", "id", det.ID, "error", err)
			return
		}
		dets := batch.Stamped()
		kept := dets[:0]
		for _, d := range dets {
			if d.Box.Valid() {
				kept = append(kept, d)
			}
		}
		det.seen(true)
		h.batchesReceived.Add(1)
		if h.sink != nil {
			h.sink.Put(kept)
		}

	case protocol.TypePing:
		det.seen(false)
		var id string
		if p, err := msg.GetPingData(); err == nil {
			id = p.ID
		}
		pong, err := protocol.NewPongMessage(id, msg.Timestamp, time.Now().UnixMilli())
		if err == nil {
			det.Send(pong)
		}

	default:
		det.seen(false)
	}
}

// DetectorCount returns the number of connected detectors
func (h *Hub) DetectorCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.detectors)
}

// Stats contains hub statistics
type Stats struct {
	Detectors        int    `json:"detectors"`
	MessagesReceived uint64 `json:"messages_received"`
	BatchesReceived  uint64 `json:"batches_received"`
	Rejected         uint64 `json:"rejected"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		Detectors:        h.DetectorCount(),
		MessagesReceived: h.messagesReceived.Load(),
		BatchesReceived:  h.batchesReceived.Load(),
		Rejected:         h.rejected.Load(),
	}
}

// DetectorInfo contains info about a connected detector
type DetectorInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	Batches   uint64    `json:"batches"`
}

// Detectors returns info about all connected detectors
func (h *Hub) Detectors() []DetectorInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]DetectorInfo, 0, len(h.detectors))
	for _, d := range h.detectors {
		d.mu.Lock()
		infos = append(infos, DetectorInfo{
			ID:        d.ID,
			Connected: d.Connected,
			LastSeen:  d.lastSeen,
			Batches:   d.batches,
		})
		d.mu.Unlock()
	}
	return infos
}

// RegisterAPIRoutes registers API routes for detector management
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	detectors := api.Group("/detectors")

	detectors.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"detectors": h.Detectors(),
			"count":     h.DetectorCount(),
		})
	})

	detectors.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})
}
