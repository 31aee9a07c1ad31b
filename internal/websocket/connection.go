package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the write side of a live client connection. The registry
// references transports for routing; the protocol handler owns them.
type Transport interface {
	Send(data []byte) error
	SendJSON(v any) error
	Close() error
}

// Connection wraps a gorilla WebSocket connection with a single writer
// goroutine. All outbound frames go through the buffered write channel so
// concurrent senders (the read loop, broadcasts, the API) never race on
// the underlying socket.
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection starts the writer goroutine for conn. bufferSize is the
// outbound frame buffer; writeTimeout bounds both buffer admission and the
// socket write itself.
func NewConnection(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	go c.writeLoop()
	return c
}

// writeLoop owns the socket's write side and its final close. On shutdown
// it drains frames already queued, so an error sent just before Close
// still reaches the client.
func (c *Connection) writeLoop() {
	defer c.conn.Close()
	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			c.drainPending()
			return
		}
	}
}

func (c *Connection) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Connection) drainPending() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues one pre-serialized text frame.
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// SendJSON serializes v and queues it.
func (c *Connection) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode outbound frame: %w", err)
	}
	return c.Send(data)
}

// Close signals the writer goroutine to drain and close the socket.
// Idempotent.
func (c *Connection) Close() error {
	c.closeOnce.Do(c.cancel)
	return nil
}
