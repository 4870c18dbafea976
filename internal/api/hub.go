package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/MikelCalvo/TaintedBySatoshi/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/google/uuid"
)

var log = logging.NewSubsystem("HTTP")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub pushes scan-event telemetry (new taint, sync-status changes) to
// connected clients. Adapted from the teacher's dashboard hub, which
// pushed CoinJoin alerts instead — same broadcast/subscribe shape, new
// payload domain.
type Hub struct {
	clients   map[string]*websocket.Conn
	broadcast chan []byte
	mutex     sync.Mutex
}

// NewHub constructs an idle Hub; call Run in a goroutine to start
// broadcasting.
func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[string]*websocket.Conn),
	}
}

// Run drains the broadcast channel until it's closed.
func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for id, client := range h.clients {
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debugf("websocket write error, dropping client %s: %v", id, err)
				client.Close()
				delete(h.clients, id)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe upgrades an incoming request to a websocket and registers it
// for broadcast.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	id := uuid.NewString()
	h.mutex.Lock()
	h.clients[id] = conn
	h.mutex.Unlock()
	log.Debugf("scan-event client %s connected, total %d", id, len(h.clients))

	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, id)
			h.mutex.Unlock()
			conn.Close()
			log.Debugf("scan-event client %s disconnected", id)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Broadcast pushes a pre-encoded JSON payload to every connected client.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		log.Warnf("broadcast channel full, dropping scan-event message")
	}
}
