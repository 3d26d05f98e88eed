package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer
	writeWait = 10 * time.Second

	// Time allowed between pongs before the peer counts as gone
	pongWait = 60 * time.Second

	// Must be shorter than pongWait
	pingPeriod = pongWait * 9 / 10

	// Largest request frame accepted
	maxMessageSize = 1 << 20

	sendBuffer = 256
)

// ErrClientBufferFull is returned when a slow client cannot keep up
var ErrClientBufferFull = errors.New("client send buffer full")

// Client is one connected websocket peer. Frames are queued on send and
// written by WritePump, the only writer of the connection.
type Client struct {
	ID   string
	Conn *websocket.Conn

	send chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded connection
func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		ID:   id,
		Conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

// SendMessage queues a frame. It never blocks: a full queue drops the frame.
func (c *Client) SendMessage(msg *WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrClientBufferFull
	}
}

// SendEvent pushes an event
func (c *Client) SendEvent(eventType string, payload interface{}) error {
	return c.SendMessage(&WSMessage{
		Kind:  KindEvent,
		Event: &WSEvent{Type: eventType, Payload: payload},
	})
}

// SendResponse answers an RPC request
func (c *Client) SendResponse(resp *RPCResponse) error {
	return c.SendMessage(&WSMessage{Kind: KindResponse, Response: resp})
}

// WritePump writes queued frames and keeps the connection alive with pings.
// It returns once Close was called or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// prepareRead applies the read limit and the pong-extended deadline
func (c *Client) prepareRead() {
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// Close stops the write pump after queued frames are flushed. Safe to call
// more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
