// Package events pushes agent state changes to the UI over WebSocket.
package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/websocket/v2"
)

// Message is the envelope for every frame sent or received.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Toucher is notified when the UI reports user activity.
type Toucher interface {
	Touch()
}

type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	subject string
}

// Hub fans published events out to every connected client.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("WebSocket: client registered (%s)", client.subject)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("WebSocket: client unregistered (%s)", client.subject)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client.
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish queues an event for every client. It never blocks; when the queue
// is full the event is dropped.
func (h *Hub) Publish(kind string, payload interface{}) {
	if h == nil {
		return
	}
	msg := Message{Type: kind}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("WebSocket: failed to encode %s event: %v", kind, err)
			return
		}
		msg.Payload = data
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("WebSocket: failed to encode %s event: %v", kind, err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Printf("WebSocket: event queue full, dropping %s", kind)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
