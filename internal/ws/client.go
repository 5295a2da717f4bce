package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 5 * time.Second
	sendQueue    = 64
)

var (
	// ErrSlowConsumer is returned by Send when the client's queue is full.
	ErrSlowConsumer = errors.New("websocket client too slow")
	// ErrClientClosed is returned by Send after Close.
	ErrClientClosed = errors.New("websocket client closed")
)

// Client represents a websocket client connection. Writes happen on a
// dedicated goroutine so Send never waits on the network.
type Client struct {
	conn  *websocket.Conn
	log   *slog.Logger
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

// NewClient constructs a client wrapper and starts its writer.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	c := &Client{
		conn:  conn,
		log:   logger,
		queue: make(chan []byte, sendQueue),
		done:  make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Send queues a message for the connection.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.queue <- payload:
		return nil
	default:
		c.log.Warn("websocket client queue full, disconnecting")
		return ErrSlowConsumer
	}
}

// Close terminates the connection once queued writes stop.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) writePump() {
	defer func() {
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket send failed", "error", err)
				c.Close()
				return
			}
		}
	}
}

// Drain reads and discards client frames until the connection closes.
func (c *Client) Drain() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
