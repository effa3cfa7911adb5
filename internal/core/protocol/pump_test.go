package protocol_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/serversignal/internal/core/protocol"
	"github.com/zeusync/serversignal/internal/core/protocol/memory"
)

func TestPumpDeliversInOrderThenReportsOnce(t *testing.T) {
	server, client := memory.Pipe(8)
	ctx := context.Background()

	for _, msg := range []string{"a", "b", "c"} {
		require.NoError(t, server.Send(ctx, []byte(msg)))
	}
	require.NoError(t, server.Close())

	var (
		got    []string
		errors []error
	)
	err := protocol.Pump(ctx, client, protocol.Handlers{
		OnMessage: func(data []byte) { got = append(got, string(data)) },
		OnError:   func(err error) { errors = append(errors, err) },
	})

	require.ErrorIs(t, err, protocol.ErrConnectionClosed)
	require.Equal(t, []string{"a", "b", "c"}, got)
	require.Len(t, errors, 1)
}

func TestPumpStopsOnContext(t *testing.T) {
	_, client := memory.Pipe(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := protocol.Pump(ctx, client, protocol.Handlers{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDialerFunc(t *testing.T) {
	ln := memory.NewListener(1)
	var dialer protocol.Dialer = protocol.DialerFunc(ln.Dial)

	ctx := context.Background()
	go func() {
		conn, err := ln.Accept(ctx)
		if err == nil {
			_ = conn.Send(ctx, []byte("hi"))
		}
	}()

	conn, err := dialer.Dial(ctx, "ignored")
	require.NoError(t, err)
	data, err := conn.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "hi", string(data))
}
