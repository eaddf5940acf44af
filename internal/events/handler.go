package events

import (
	"encoding/json"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Handler serves the /ws endpoint.
type Handler struct {
	hub      *Hub
	activity Toucher
}

func NewHandler(hub *Hub, activity Toucher) *Handler {
	return &Handler{hub: hub, activity: activity}
}

// Upgrade rejects plain HTTP requests to the WebSocket route.
func Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Serve handles one connection until it closes.
func (h *Handler) Serve(c *websocket.Conn) {
	subject, _ := c.Locals("subject").(string)
	if subject == "" {
		log.Println("WebSocket: unauthorized connection attempt")
		c.Close()
		return
	}

	client := &Client{
		conn:    c,
		send:    make(chan []byte, 256),
		subject: subject,
	}
	if !h.hub.add(client) {
		c.Close()
		return
	}

	go client.writePump()
	client.readPump(h)
}

func (c *Client) readPump(h *Handler) {
	defer func() {
		h.hub.remove(c)
		c.conn.Close()
	}()
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket: read error: %v", err)
			}
			return
		}
		h.dispatch(message)
	}
}

// dispatch routes one inbound frame.
func (h *Handler) dispatch(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("WebSocket: error unmarshaling message: %v", err)
		return
	}

	switch msg.Type {
	case "activity":
		if h.activity != nil {
			h.activity.Touch()
		}
	case "ping":
		h.hub.Publish("pong", nil)
	default:
		log.Printf("WebSocket: unknown message type: %s", msg.Type)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("WebSocket: write error: %v", err)
			return
		}
	}
}
