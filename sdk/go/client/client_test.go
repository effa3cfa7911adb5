package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/serversignal/internal/core/diff"
	"github.com/zeusync/serversignal/internal/core/protocol"
	"github.com/zeusync/serversignal/internal/core/protocol/memory"
	"github.com/zeusync/serversignal/internal/core/replica"
	"github.com/zeusync/serversignal/internal/core/signal"
)

type counter struct {
	Value int64 `json:"value"`
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Target = "memory"
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.DialTimeout = time.Second
	return cfg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestReconnectPreservesState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln := memory.NewListener(16)
	codec := diff.JSONPatch[counter]()
	reg := replica.NewRegistry(protocol.JSONCodec{})
	cell, err := replica.Register(reg, "counter", codec, counter{})
	require.NoError(t, err)

	c, err := New(protocol.DialerFunc(ln.Dial), reg, testConfig())
	require.NoError(t, err)

	events := make(chan EventType, 16)
	for _, typ := range []EventType{EventTypeConnected, EventTypeDisconnected, EventTypeReconnecting} {
		c.OnEvent(typ, func(e Event) error {
			events <- e.Type
			return nil
		})
	}

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	first, err := ln.Accept(ctx)
	require.NoError(t, err)
	sig, err := signal.New("counter", first, codec, counter{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, sig.Mutate(ctx, func(v *counter) { v.Value++ }))
	}
	waitFor(t, func() bool { return cell.Get().Value == 3 })
	require.True(t, c.Connected())

	// nobody has registered "late" yet, so its update waits in the queue
	late, err := signal.New("late", first, codec, counter{})
	require.NoError(t, err)
	require.NoError(t, late.Mutate(ctx, func(v *counter) { v.Value = 7 }))
	waitFor(t, func() bool { return reg.Pending("late") == 1 })

	require.NoError(t, first.Close())
	waitFor(t, func() bool { return !c.Connected() })
	require.Equal(t, int64(3), cell.Get().Value)
	require.True(t, reg.Registered("counter"))
	require.Equal(t, 1, reg.Pending("late"))

	second, err := ln.Accept(ctx)
	require.NoError(t, err)
	waitFor(t, c.Connected)
	conn, err := c.Conn()
	require.NoError(t, err)
	require.Equal(t, "memory:a", conn.RemoteAddr())

	require.Equal(t, int64(3), cell.Get().Value)
	require.Equal(t, 1, reg.Pending("late"))
	lateCell, err := replica.Register(reg, "late", codec, counter{})
	require.NoError(t, err)
	require.Equal(t, int64(7), lateCell.Get().Value)
	require.Equal(t, 0, reg.Pending("late"))

	// the server side starts over; its first update replaces the kept replica
	sig, err = signal.New("counter", second, codec, counter{})
	require.NoError(t, err)
	require.NoError(t, sig.Mutate(ctx, func(v *counter) { v.Value += 10 }))
	waitFor(t, func() bool { return cell.Get().Value == 10 })
	require.NoError(t, sig.Mutate(ctx, func(v *counter) { v.Value++ }))
	waitFor(t, func() bool { return cell.Get().Value == 11 })

	require.NoError(t, c.Close())
	require.NoError(t, <-runErr)
	require.False(t, c.Connected())
	_, err = c.Conn()
	require.ErrorIs(t, err, ErrNotConnected)
	require.ErrorIs(t, c.Run(ctx), ErrClientClosed)

	seen := map[EventType]int{}
	timeout := time.After(time.Second)
	for seen[EventTypeConnected] < 2 || seen[EventTypeDisconnected] < 2 || seen[EventTypeReconnecting] < 1 {
		select {
		case typ := <-events:
			seen[typ]++
		case <-timeout:
			t.Fatalf("missing events: %v", seen)
		}
	}
}

func TestReconnectGivesUp(t *testing.T) {
	dialErr := errors.New("refused")
	dials := 0
	dialer := protocol.DialerFunc(func(context.Context, string) (protocol.Connection, error) {
		dials++
		return nil, dialErr
	})

	cfg := testConfig()
	cfg.ReconnectDelay = time.Millisecond
	cfg.MaxReconnectAttempts = 3
	c, err := New(dialer, replica.NewRegistry(protocol.JSONCodec{}), cfg)
	require.NoError(t, err)

	err = c.Run(context.Background())
	require.ErrorIs(t, err, ErrReconnectFailed)
	require.ErrorIs(t, err, dialErr)
	require.Equal(t, 3, dials)
}

func TestRunStopsOnContext(t *testing.T) {
	ln := memory.NewListener(1)
	c, err := New(protocol.DialerFunc(ln.Dial), replica.NewRegistry(protocol.JSONCodec{}), testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	_, err = ln.Accept(ctx)
	require.NoError(t, err)
	waitFor(t, c.Connected)
	require.ErrorIs(t, c.Run(ctx), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-runErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectDelay = -time.Second
	_, err := New(protocol.DialerFunc(memory.NewListener(1).Dial), replica.NewRegistry(protocol.JSONCodec{}), cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
