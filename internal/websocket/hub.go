package websocket

import (
	"encoding/json"
	"sync"
)

// AdminChannel receives every event regardless of user.
const AdminChannel = "admin"

type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(channel string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[channel] == nil {
		h.clients[channel] = make(map[*Client]struct{})
	}
	h.clients[channel][client] = struct{}{}
}

func (h *Hub) Unregister(channel string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[channel] == nil {
		return
	}
	delete(h.clients[channel], client)
	if len(h.clients[channel]) == 0 {
		delete(h.clients, channel)
	}
}

// Broadcast sends v to the channel's clients. Slow clients drop messages instead of blocking.
func (h *Hub) Broadcast(channel string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[channel] {
		select {
		case client.send <- payload:
		default:
		}
	}
	return nil
}

// Subscribers reports how many clients listen on a channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[channel])
}
