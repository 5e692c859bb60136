package engine

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/bobmcallan/jobmesh/internal/common"
	"github.com/bobmcallan/jobmesh/internal/models"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// JobEventHub fans out job lifecycle events to connected observers. It
// mirrors the register/unregister/broadcast channel pattern used for
// real-time updates elsewhere in the stack, adapted here for the
// operational /ws/jobs surface rather than a submitter-facing UI.
type JobEventHub struct {
	clients    map[*jobEventClient]bool
	broadcast  chan models.JobEvent
	register   chan *jobEventClient
	unregister chan *jobEventClient
	done       chan struct{}
	mu         sync.RWMutex
	logger     *common.Logger
}

type jobEventClient struct {
	hub  *JobEventHub
	conn *websocket.Conn
	send chan []byte
}

// NewJobEventHub creates a new hub.
func NewJobEventHub(logger *common.Logger) *JobEventHub {
	return &JobEventHub{
		clients:    make(map[*jobEventClient]bool),
		broadcast:  make(chan models.JobEvent, 256),
		register:   make(chan *jobEventClient),
		unregister: make(chan *jobEventClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run is the hub's event loop. Call it as a goroutine.
func (h *JobEventHub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn().Err(err).Msg("failed to marshal job event")
				continue
			}

			h.mu.RLock()
			var slow []*jobEventClient
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()

			if len(slow) > 0 {
				h.mu.Lock()
				for _, c := range slow {
					delete(h.clients, c)
					close(c.send)
				}
				h.mu.Unlock()
			}
		}
	}
}

// Stop signals the hub's event loop to exit.
func (h *JobEventHub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// Broadcast publishes event to all connected observers, dropping it if the
// broadcast buffer is full rather than blocking the caller.
func (h *JobEventHub) Broadcast(event models.JobEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().Msg("job event broadcast buffer full, dropping event")
	}
}

// ServeWS upgrades an HTTP connection and registers it as an event observer.
func (h *JobEventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &jobEventClient{hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the number of connected observers.
func (h *JobEventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *jobEventClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *jobEventClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
