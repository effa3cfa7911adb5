package protocol

import "context"

// Connection is one established duplex link carrying whole frames. Send is
// safe for concurrent use; Receive is called from a single reader.
type Connection interface {
	ID() string
	RemoteAddr() string

	// Send writes one frame. A closed link returns an error matching
	// ErrConnectionClosed.
	Send(ctx context.Context, data []byte) error
	// Receive blocks for the next frame.
	Receive(ctx context.Context) ([]byte, error)

	// Done is closed once the link has ended for any reason.
	Done() <-chan struct{}
	Close() error
}

// Dialer opens client connections to a target address.
type Dialer interface {
	Dial(ctx context.Context, target string) (Connection, error)
}

type DialerFunc func(ctx context.Context, target string) (Connection, error)

func (f DialerFunc) Dial(ctx context.Context, target string) (Connection, error) {
	return f(ctx, target)
}

// Session serves one accepted server-side connection. The adapter closes the
// connection when the session returns; ctx ends when the peer goes away.
type Session func(ctx context.Context, conn Connection)
