package controller

import (
	"log"
	"sync"

	"dealflow/models"

	"github.com/gofiber/websocket/v2"
)

// EventHub fans enrollment lifecycle events out to connected operators.
// The event recorder publishes into it; slow clients drop events rather
// than blocking the pipeline.
type EventHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan models.EnrollmentEvent
	logger  *log.Logger
}

func NewEventHub(logger *log.Logger) *EventHub {
	return &EventHub{
		clients: make(map[*websocket.Conn]chan models.EnrollmentEvent),
		logger:  logger,
	}
}

// Publish never blocks; a client with a full buffer misses the event
func (h *EventHub) Publish(event models.EnrollmentEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

// HandleEventFeedWS streams lifecycle events to one WebSocket client
func (h *EventHub) HandleEventFeedWS(c *websocket.Conn) {
	defer c.Close()

	ch := make(chan models.EnrollmentEvent, 32)
	h.mu.Lock()
	h.clients[c] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()

	for event := range ch {
		if err := c.WriteJSON(event); err != nil {
			h.logger.Printf("Event feed write failed: %v", err)
			return
		}
	}
}
