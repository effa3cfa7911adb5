// Package memory is an in-process transport. Both ends of a Pipe live in the
// same process, which makes it the transport of choice for tests and for
// embedding a server and its clients in one binary.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/zeusync/serversignal/internal/core/protocol"
)

var _ protocol.Connection = (*Conn)(nil)

type pipe struct {
	done chan struct{}
	once sync.Once
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.done) })
}

// Conn is one end of a Pipe.
type Conn struct {
	id   string
	addr string
	in   <-chan []byte
	out  chan<- []byte
	p    *pipe
}

// Pipe returns two connected ends. Each direction buffers up to buffer frames;
// zero makes Send wait for the peer's Receive. Closing either end ends both.
func Pipe(buffer int) (*Conn, *Conn) {
	ab := make(chan []byte, buffer)
	ba := make(chan []byte, buffer)
	p := &pipe{done: make(chan struct{})}
	a := &Conn{id: uuid.NewString(), addr: "memory:a", in: ba, out: ab, p: p}
	b := &Conn{id: uuid.NewString(), addr: "memory:b", in: ab, out: ba, p: p}
	return a, b
}

func (c *Conn) ID() string         { return c.id }
func (c *Conn) RemoteAddr() string { return c.addr }

func (c *Conn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.p.done:
		return protocol.ErrConnectionClosed
	default:
	}
	frame := append([]byte(nil), data...)
	select {
	case c.out <- frame:
		return nil
	case <-c.p.done:
		return protocol.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns frames sent before the pipe closed, then ErrConnectionClosed.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.p.done:
		select {
		case data := <-c.in:
			return data, nil
		default:
			return nil, protocol.ErrConnectionClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) Done() <-chan struct{} { return c.p.done }

func (c *Conn) Close() error {
	c.p.close()
	return nil
}

// Listener hands out server ends of pipes created by Dial. It stands in for a
// network listener when server and client share a process.
type Listener struct {
	buffer int
	conns  chan *Conn
	closed chan struct{}
	once   sync.Once
}

func NewListener(buffer int) *Listener {
	return &Listener{buffer: buffer, conns: make(chan *Conn), closed: make(chan struct{})}
}

// Dial creates a pipe, hands the server end to Accept and returns the client
// end. target is ignored.
func (l *Listener) Dial(ctx context.Context, _ string) (protocol.Connection, error) {
	client, server := Pipe(l.buffer)
	select {
	case l.conns <- server:
		return client, nil
	case <-l.closed:
		return nil, protocol.ErrDialFailed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Accept(ctx context.Context) (protocol.Connection, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, protocol.ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}
