package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sitewatch/presence-agent/monitor"
)

const maxWSConnections = 50

// StatusHub fans out roster status snapshots to connected WebSocket clients.
// The scan loop pushes a snapshot after every completed tick; a single
// broadcaster goroutine writes to all clients.
type StatusHub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	updates    chan []monitor.EmployeeStatus

	mu     sync.RWMutex
	latest []monitor.EmployeeStatus
}

func NewStatusHub() *StatusHub {
	return &StatusHub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		updates:    make(chan []monitor.EmployeeStatus, 1),
	}
}

// PublishStatus hands a fresh snapshot to the hub. Never blocks the scan
// loop: if the broadcaster is busy the previous pending snapshot is dropped.
func (h *StatusHub) PublishStatus(snapshot []monitor.EmployeeStatus) {
	h.mu.Lock()
	h.latest = snapshot
	h.mu.Unlock()

	select {
	case h.updates <- snapshot:
	default:
	}
}

// Latest returns the most recent snapshot.
func (h *StatusHub) Latest() []monitor.EmployeeStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// Run starts the hub's main loop.
func (h *StatusHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			if len(h.clients) >= maxWSConnections {
				conn.Close()
				log.Printf("StatusHub: connection rejected, max %d clients reached", maxWSConnections)
				continue
			}
			h.clients[conn] = true
			// Send the current snapshot straight away so a new viewer is
			// not blank until the next scan.
			if latest := h.Latest(); latest != nil {
				h.write(conn, latest)
			}

		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}

		case snapshot := <-h.updates:
			for conn := range h.clients {
				h.write(conn, snapshot)
			}
		}
	}
}

func (h *StatusHub) write(conn *websocket.Conn, snapshot []monitor.EmployeeStatus) {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(snapshot); err != nil {
		log.Printf("StatusHub: write error: %v", err)
		go h.Unregister(conn)
	}
}

func (h *StatusHub) shutdown() {
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
}

// Register adds a client connection.
func (h *StatusHub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister removes a client connection.
func (h *StatusHub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}
