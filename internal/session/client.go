package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"coderoom/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Client is one live connection. Frames are queued by the gateway and written
// by WritePump; ReadPump feeds inbound frames back to the gateway.
type Client struct {
	ID   string
	Conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
	hook   func(models.WSFrame)
}

func NewClient(id string, conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 1
	}
	return &Client{ID: id, Conn: conn, send: make(chan []byte, buffer)}
}

// SetSendHook replaces the websocket queue (used in tests).
func (c *Client) SetSendHook(fn func(models.WSFrame)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

// Send queues a frame without blocking. It returns false when the queue is
// full, meaning the peer is not keeping up.
func (c *Client) Send(frame models.WSFrame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	if c.hook != nil {
		c.hook(frame)
		return true
	}
	b, err := json.Marshal(frame)
	if err != nil {
		return true
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which then closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump blocks until the connection fails. Frames that are not valid JSON
// envelopes are skipped.
func (c *Client) ReadPump(onFrame func(models.InboundFrame)) error {
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.Conn.ReadMessage()
		if err != nil {
			return err
		}
		var frame models.InboundFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			onFrame(models.InboundFrame{})
			continue
		}
		onFrame(frame)
	}
}
