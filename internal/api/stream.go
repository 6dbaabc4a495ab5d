package api

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DashboardHub fans out dashboard events to every connected websocket
// viewer. One hub per Server; Run must be started in its own goroutine
// before any DashboardClient registers.
type DashboardHub struct {
	viewers    map[*DashboardClient]bool
	register   chan *DashboardClient
	unregister chan *DashboardClient
	broadcast  chan []byte
	mu         sync.RWMutex
	logger     *slog.Logger
}

// DashboardClient pumps one connected browser's websocket in both
// directions: out from the hub's broadcast channel, in only far enough to
// detect disconnects (the dashboard takes no client input).
type DashboardClient struct {
	hub  *DashboardHub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty dashboard hub.
func NewHub(logger *slog.Logger) *DashboardHub {
	return &DashboardHub{
		viewers:    make(map[*DashboardClient]bool),
		register:   make(chan *DashboardClient),
		unregister: make(chan *DashboardClient),
		broadcast:  make(chan []byte, 256),
		logger:     logger.With("component", "ws-hub"),
	}
}

// Run drives registration, unregistration, and broadcast fan-out. It never
// returns: the loop has no shutdown signal of its own, and Server.Stop
// shuts down the HTTP listener without stopping it; the loop ends when the
// process exits.
func (h *DashboardHub) Run() {
	for {
		select {
		case viewer := <-h.register:
			h.addViewer(viewer)

		case viewer := <-h.unregister:
			h.dropViewer(viewer)

		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

func (h *DashboardHub) addViewer(viewer *DashboardClient) {
	h.mu.Lock()
	h.viewers[viewer] = true
	count := len(h.viewers)
	h.mu.Unlock()
	h.logger.Info("dashboard viewer connected", "count", count)
}

func (h *DashboardHub) dropViewer(viewer *DashboardClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.viewers[viewer]; !ok {
		return
	}
	delete(h.viewers, viewer)
	close(viewer.send)
	h.logger.Info("dashboard viewer disconnected", "count", len(h.viewers))
}

// fanOut pushes one already-marshaled event to every viewer, dropping any
// viewer whose send buffer is still full from a prior push rather than
// blocking the hub loop on a slow reader.
func (h *DashboardHub) fanOut(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for viewer := range h.viewers {
		select {
		case viewer.send <- message:
		default:
			h.logger.Warn("dropping slow dashboard viewer")
			close(viewer.send)
			delete(h.viewers, viewer)
		}
	}
}

// BroadcastEvent marshals and fans out one dashboard event (opportunity,
// fill, order, position, kill, or book update) to every connected viewer.
func (h *DashboardHub) BroadcastEvent(evt DashboardEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal dashboard event", "type", evt.Type, "error", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast channel full, dropping dashboard event", "type", evt.Type)
	}
}

// BroadcastSnapshot wraps a full snapshot in a "snapshot"-typed event and
// fans it out to every connected viewer.
func (h *DashboardHub) BroadcastSnapshot(snapshot DashboardSnapshot) {
	h.BroadcastEvent(DashboardEvent{
		Type:      "snapshot",
		Timestamp: time.Now(),
		Data:      snapshot,
	})
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512 KB
)

// writePump drains the hub's fan-out onto this viewer's connection and
// keeps it alive with periodic pings. Runs until the send channel closes or
// a write fails.
func (c *DashboardClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only watches for the connection closing or going stale; the
// dashboard is read-only so any inbound payload from the browser is
// discarded.
func (c *DashboardClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("dashboard websocket error", "error", err)
			}
			return
		}
	}
}

// NewClient registers conn with hub and starts its read/write pumps.
func NewClient(hub *DashboardHub, conn *websocket.Conn) *DashboardClient {
	client := &DashboardClient{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()

	return client
}
