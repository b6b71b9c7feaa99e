package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mentorchat/pkg/interfaces"
	"mentorchat/pkg/types"
)

// Connection wraps one live WebSocket with a single writer goroutine.
// All writes funnel through writeCh so concurrent fan-outs never race on
// the underlying socket. Identity is fixed at handshake time.
type Connection struct {
	id          string
	identity    types.Identity
	connectedAt time.Time

	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection wraps an upgraded WebSocket for the given identity.
// bufferSize is the write queue depth; writeTimeout bounds both the
// enqueue wait and the socket write deadline.
func NewConnection(conn *websocket.Conn, identity types.Identity, bufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.New().String(),
		identity:     identity,
		connectedAt:  time.Now().UTC(),
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// ID returns the session identifier, unique per connection.
func (c *Connection) ID() string { return c.id }

// Identity returns the verified owner of this session.
func (c *Connection) Identity() types.Identity { return c.identity }

// ConnectedAt returns when the handshake completed.
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// writeLoop is the single goroutine allowed to write to the socket.
// When a write fails the loop cancels the connection before exiting, so
// WriteEvent callers see ErrConnectionClosed instead of queueing into a
// buffer nobody drains.
func (c *Connection) writeLoop() {
	defer func() {
		c.cancel()
		for len(c.writeCh) > 0 {
			<-c.writeCh
		}
	}()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteEvent marshals v and queues it for delivery. Returns
// ErrConnectionClosed once the session is torn down, so fan-out can
// check liveness per target without special casing.
func (c *Connection) WriteEvent(v any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidEventPayload
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

// Close tears down the connection. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// done exposes the connection lifetime to the read pump and ping loop.
func (c *Connection) done() <-chan struct{} { return c.ctx.Done() }
