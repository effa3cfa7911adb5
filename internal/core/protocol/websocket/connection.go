package websocket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/serversignal/internal/core/protocol"
)

var _ protocol.Connection = (*Connection)(nil)

// Connection adapts a gorilla websocket to protocol.Connection. Writes are
// serialized; reads must come from a single goroutine.
type Connection struct {
	id     string
	conn   *websocket.Conn
	config protocol.Config
	closed int32
	done   chan struct{}
	once   sync.Once

	// Write mutex to ensure thread-safe writes
	writeMu sync.Mutex
}

// NewConnection wraps an established websocket.
func NewConnection(conn *websocket.Conn, config protocol.Config) *Connection {
	conn.SetReadLimit(int64(config.Limit()))
	return &Connection{
		id:     uuid.New().String(),
		conn:   conn,
		config: config,
		done:   make(chan struct{}),
	}
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Connection) messageType() int {
	if c.config.Binary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// closedError marks err as fatal for the connection while keeping the cause.
func closedError(err error, msg string) error {
	return errors.Wrap(fmt.Errorf("%w: %w", protocol.ErrConnectionClosed, err), msg)
}

func (c *Connection) Send(ctx context.Context, data []byte) error {
	if c.IsClosed() {
		return protocol.ErrConnectionClosed
	}
	if len(data) > c.config.Limit() {
		return errors.Wrapf(protocol.ErrMessageTooLarge, "message size %d exceeds limit %d", len(data), c.config.Limit())
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Time{}
	if c.config.WriteTimeout > 0 {
		deadline = time.Now().Add(c.config.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)

	if err := c.conn.WriteMessage(c.messageType(), data); err != nil {
		c.shutdown()
		return closedError(err, "failed to write message")
	}
	return nil
}

func (c *Connection) Receive(ctx context.Context) ([]byte, error) {
	if c.IsClosed() {
		return nil, protocol.ErrConnectionClosed
	}

	if c.config.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
	// Unblock the read when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, closedError(err, "failed to read message")
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// discard reads and drops inbound frames so control frames are processed and
// a peer close is noticed on a write-only connection.
func (c *Connection) discard() {
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			c.shutdown()
			return
		}
	}
}

// keepAlive pings the peer every period until the connection ends.
func (c *Connection) keepAlive(period time.Duration) {
	if period <= 0 {
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(period/2))
			c.writeMu.Unlock()
			if err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Connection) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) shutdown() {
	c.once.Do(func() {
		atomic.StoreInt32(&c.closed, 1)
		_ = c.conn.Close()
		close(c.done)
	})
}

func (c *Connection) Close() error {
	return c.CloseWithReason("connection closed")
}

// CloseWithReason sends a close frame carrying reason, then closes the socket.
func (c *Connection) CloseWithReason(reason string) error {
	if c.IsClosed() {
		return nil
	}
	c.writeMu.Lock()
	closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	c.shutdown()
	return nil
}
