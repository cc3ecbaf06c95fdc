package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"trade-signal-sim/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are already filtered by the CORS middleware
		return true
	},
}

// Message types pushed to websocket clients
const (
	MsgConnected    = "CONNECTED"
	MsgTradeEvent   = "TRADE_EVENT"
	MsgRunStarted   = "RUN_STARTED"
	MsgRunCompleted = "RUN_COMPLETED"
)

// WSMessage is the envelope for everything sent over /ws
type WSMessage struct {
	Type      string      `json:"type"`
	RunID     string      `json:"run_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// WSClient represents a WebSocket client
type WSClient struct {
	conn      *websocket.Conn
	send      chan []byte
	hub       *WSHub
	runID     string // only this run's events when set
	closeChan chan struct{}
}

type wsFrame struct {
	runID string
	data  []byte
}

// WSHub manages all WebSocket clients
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan wsFrame
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{} // closed when Run returns
	mu         sync.RWMutex
	logger     zerolog.Logger
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(logger zerolog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan wsFrame, 4096),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "ws_hub").Logger(),
	}
}

// Run starts the WebSocket hub and returns when ctx is done
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
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

		case frame := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.runID != "" && frame.runID != "" && client.runID != frame.runID {
					continue
				}
				select {
				case client.send <- frame.data:
				default:
					// Slow client; let unregister close it
					go func(c *WSClient) {
						select {
						case h.unregister <- c:
						case <-h.done:
						}
					}(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to every interested client
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal websocket message")
		return
	}

	select {
	case h.broadcast <- wsFrame{runID: msg.RunID, data: data}:
	default:
		h.logger.Warn().Str("type", msg.Type).Msg("Broadcast channel full, dropping message")
	}
}

// BroadcastEvent forwards a trade event
func (h *WSHub) BroadcastEvent(runID string, ev events.TradeEvent) {
	h.Broadcast(WSMessage{
		Type:      MsgTradeEvent,
		RunID:     runID,
		Timestamp: ev.Time,
		Data:      ev,
	})
}

// GetClientCount returns the number of connected clients
func (h *WSHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writePump pumps messages from the hub to the websocket connection
func (c *WSClient) writePump() {
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
				c.hub.logger.Debug().Err(err).Msg("WebSocket write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closeChan:
			return
		}
	}
}

// readPump drains the connection; clients only send pongs and close frames
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		close(c.closeChan)
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}

// InitWebSocket starts a hub and subscribes it to every bus event
func InitWebSocket(ctx context.Context, eventBus *events.EventBus, logger zerolog.Logger) *WSHub {
	hub := NewWSHub(logger)
	go hub.Run(ctx)

	if eventBus != nil {
		eventBus.SubscribeAll(hub.BroadcastEvent)
	}
	hub.logger.Info().Msg("WebSocket hub initialized")
	return hub
}

// handleWebSocket handles WebSocket connections. ?run_id= narrows the
// stream to one run.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	client := &WSClient{
		conn:      conn,
		send:      make(chan []byte, 256),
		hub:       s.hub,
		runID:     c.Query("run_id"),
		closeChan: make(chan struct{}),
	}
	select {
	case client.hub.register <- client:
	case <-client.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()

	welcome := WSMessage{Type: MsgConnected, RunID: client.runID, Timestamp: time.Now()}
	if data, err := json.Marshal(welcome); err == nil {
		select {
		case client.send <- data:
		default:
		}
	}
}
