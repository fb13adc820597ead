package api

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/samijaber1/aegis-perf/internal/dashboard"
)

// Hub maintains the set of active stream clients and broadcasts snapshots.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewHub creates a hub; call Run to start it
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.Named("hub"),
	}
}

// Run serves registrations and broadcasts until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("stream client registered", zap.String("remote", client.remote()))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.logger.Debug("stream client unregistered", zap.String("remote", client.remote()))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					h.logger.Warn("stream client too slow, dropping", zap.String("remote", client.remote()))
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RegisterClient adds client to the hub
func (h *Hub) RegisterClient(ctx context.Context, client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastSnapshot queues snap for every client. Frames are dropped when
// the hub is backed up.
func (h *Hub) BroadcastSnapshot(snap *dashboard.Snapshot) {
	message, err := encodeSnapshot(snap)
	if err != nil {
		h.logger.Error("failed to encode snapshot", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast queue full, dropping snapshot")
	}
}

func encodeSnapshot(snap *dashboard.Snapshot) ([]byte, error) {
	return json.Marshal(StreamMessage{Type: "snapshot", Payload: snap})
}
