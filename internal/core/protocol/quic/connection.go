package quic

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/serversignal/internal/core/protocol"
	"github.com/zeusync/serversignal/pkg/generic"
)

const headerSize = 8

var frames = generic.NewPool(func() *bytes.Buffer { return new(bytes.Buffer) }, (*bytes.Buffer).Reset)

var _ protocol.Connection = (*Connection)(nil)

// Connection is one QUIC connection and its single stream.
type Connection struct {
	id     string
	conn   *quic.Conn
	stream *quic.Stream
	config protocol.Config
	closed int32
	done   chan struct{}
	once   sync.Once

	writeMu sync.Mutex
}

func newConnection(conn *quic.Conn, stream *quic.Stream, config protocol.Config) *Connection {
	c := &Connection{
		id:     uuid.New().String(),
		conn:   conn,
		stream: stream,
		config: config,
		done:   make(chan struct{}),
	}
	go func() {
		select {
		case <-conn.Context().Done():
			c.shutdown()
		case <-c.done:
		}
	}()
	return c
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func closedError(err error, msg string) error {
	return errors.Wrap(fmt.Errorf("%w: %w", protocol.ErrConnectionClosed, err), msg)
}

func (c *Connection) Send(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return errors.Wrap(protocol.ErrMalformedEnvelope, "empty frames are reserved")
	}
	return c.writeFrame(ctx, data)
}

// writeFrame writes header and body with one Write so frames never interleave.
func (c *Connection) writeFrame(ctx context.Context, data []byte) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return protocol.ErrConnectionClosed
	}
	if len(data) > c.config.Limit() {
		return errors.Wrapf(protocol.ErrMessageTooLarge, "message size %d exceeds limit %d", len(data), c.config.Limit())
	}

	frame := frames.Get()
	defer frames.Put(frame)
	var header [headerSize]byte
	binary.BigEndian.PutUint64(header[:], uint64(len(data)))
	frame.Write(header[:])
	frame.Write(data)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Time{}
	if c.config.WriteTimeout > 0 {
		deadline = time.Now().Add(c.config.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = c.stream.SetWriteDeadline(deadline)

	if _, err := c.stream.Write(frame.Bytes()); err != nil {
		c.shutdown()
		return closedError(err, "failed to write frame")
	}
	return nil
}

func (c *Connection) Receive(ctx context.Context) ([]byte, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, protocol.ErrConnectionClosed
	}
	if c.config.ReadTimeout > 0 {
		_ = c.stream.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.stream.SetReadDeadline(time.Now())
	})
	defer stop()

	header := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(c.stream, header); err != nil {
			return nil, c.readError(ctx, err, "failed to read frame header")
		}
		length := binary.BigEndian.Uint64(header)
		if length == 0 {
			continue
		}
		if length > uint64(c.config.Limit()) {
			c.shutdown()
			return nil, errors.Wrapf(protocol.ErrMessageTooLarge, "frame of %d bytes", length)
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(c.stream, data); err != nil {
			return nil, c.readError(ctx, err, "failed to read frame")
		}
		return data, nil
	}
}

func (c *Connection) readError(ctx context.Context, err error, msg string) error {
	c.shutdown()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return closedError(err, msg)
}

func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) shutdown() {
	c.once.Do(func() {
		atomic.StoreInt32(&c.closed, 1)
		close(c.done)
		_ = c.conn.CloseWithError(0, "closed")
	})
}

func (c *Connection) Close() error {
	c.shutdown()
	return nil
}
