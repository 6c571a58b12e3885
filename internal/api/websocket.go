package api

import (
	"log"
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
		return true // Allow all for local dashboard
	},
}

// severityRank orders alert severities for per-client filtering.
// Mirrors the alert manager's severity ladder.
var severityRank = map[string]int{
	"info": 0, "low": 1, "medium": 2, "high": 3, "critical": 4,
}

// frame is one outbound alert tagged with its severity, so the hub can
// filter per client without re-parsing the payload.
type frame struct {
	severity string
	data     []byte
}

// Hub fans alert frames out to subscribed dashboard clients. Each
// client carries a severity floor; frames below it are skipped.
type Hub struct {
	clients   map[*websocket.Conn]string // conn -> severity floor
	broadcast chan frame
	dropped   int64
	mutex     sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan frame, 256),
		clients:   make(map[*websocket.Conn]string),
	}
}

func (h *Hub) Run() {
	for f := range h.broadcast {
		h.mutex.Lock()
		for conn, minSeverity := range h.clients {
			if severityRank[f.severity] < severityRank[minSeverity] {
				continue
			}
			// Set write deadline to prevent blocked clients from hanging the hub
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				log.Printf("Websocket write error: %v", err)
				conn.Close()
				delete(h.clients, conn)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe handles incoming websocket connections. An optional
// ?min_severity= query narrows the stream to alerts at or above that
// level; unknown values fall back to the full stream.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade websocket: %v", err)
		return
	}

	minSeverity := c.DefaultQuery("min_severity", "info")
	if _, ok := severityRank[minSeverity]; !ok {
		minSeverity = "info"
	}

	h.mutex.Lock()
	h.clients[conn] = minSeverity
	total := len(h.clients)
	h.mutex.Unlock()

	log.Printf("New WebSocket client connected (min_severity=%s). Total clients: %d", minSeverity, total)

	// Keep alive loop (we only care about pushing down, but we must read to handle disconnects)
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			remaining := len(h.clients)
			h.mutex.Unlock()
			conn.Close()
			log.Printf("WebSocket client disconnected. Total clients: %d", remaining)
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("WebSocket error: %v", err)
				}
				break
			}
		}
	}()
}

// Broadcast queues one alert frame for fan-out. Never blocks: when the
// queue is full the frame is dropped so a slow dashboard cannot stall
// the anomaly sweep that emits alerts.
func (h *Hub) Broadcast(severity string, data []byte) {
	select {
	case h.broadcast <- frame{severity: severity, data: data}:
	default:
		h.mutex.Lock()
		h.dropped++
		total := h.dropped
		h.mutex.Unlock()
		log.Printf("WebSocket broadcast queue full, dropped alert frame (%d dropped so far)", total)
	}
}
