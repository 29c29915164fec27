package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"potholecam/internal/logger"
	"potholecam/internal/metrics"
)

// HubService fans messages out to connected viewers. Only the hub goroutine
// writes to the connections.
type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

// NewHubService creates a hub. m may be nil.
func NewHubService(logger *logger.Logger, m *metrics.Metrics) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    m,
	}
}

// Run serves register, unregister and broadcast requests until ctx is done.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mutex.Unlock()
			h.updateViewers(n)
			h.logger.Info("Viewer connected. Total: %d", n)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			n := len(h.clients)
			h.mutex.Unlock()
			h.updateViewers(n)
			h.logger.Info("Viewer disconnected. Total: %d", n)

		case message := <-h.broadcast:
			h.send(message)
		}
	}
}

func (h *HubService) send(message []byte) {
	var failed []*websocket.Conn

	h.mutex.RLock()
	for client := range h.clients {
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Error("Error sending message: %v", err)
			failed = append(failed, client)
		}
	}
	h.mutex.RUnlock()

	if len(failed) == 0 {
		return
	}

	h.mutex.Lock()
	for _, client := range failed {
		delete(h.clients, client)
		client.Close()
	}
	n := len(h.clients)
	h.mutex.Unlock()
	h.updateViewers(n)
}

func (h *HubService) closeAll() {
	h.mutex.Lock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
	h.mutex.Unlock()
	h.updateViewers(0)
}

func (h *HubService) updateViewers(n int) {
	if h.metrics != nil {
		h.metrics.Viewers.Store(int64(n))
	}
}

func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues message for every viewer. It never blocks; when the
// queue is full the message is dropped and false is returned.
func (h *HubService) Broadcast(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		return false
	}
}

// BroadcastJSON marshals v and broadcasts it.
func (h *HubService) BroadcastJSON(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Error encoding viewer message: %v", err)
		return false
	}
	return h.Broadcast(data)
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
