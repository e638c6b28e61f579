package notify

import (
	"context"

	"plexledger/internal/websocket"
)

// Hub pushes events to the admin feed and to the user's own channel.
type Hub struct {
	hub *websocket.Hub
}

func NewHub(hub *websocket.Hub) *Hub {
	return &Hub{hub: hub}
}

func (h *Hub) Notify(_ context.Context, event Event) error {
	if err := h.hub.Broadcast(websocket.AdminChannel, event); err != nil {
		return err
	}
	if event.UserID == "" {
		return nil
	}
	return h.hub.Broadcast(event.UserID, event)
}
