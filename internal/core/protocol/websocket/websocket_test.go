package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/serversignal/internal/core/observability/log"
	"github.com/zeusync/serversignal/internal/core/protocol"
)

func serve(t *testing.T, cfg protocol.Config, session protocol.Session) string {
	t.Helper()
	srv := httptest.NewServer(NewHandler(cfg, session, log.Nop()))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSessionFramesReachClient(t *testing.T) {
	for _, binary := range []bool{false, true} {
		name := "text"
		if binary {
			name = "binary"
		}
		t.Run(name, func(t *testing.T) {
			cfg := protocol.DefaultConfig()
			cfg.Binary = binary

			ended := make(chan struct{})
			url := serve(t, cfg, func(ctx context.Context, conn protocol.Connection) {
				defer close(ended)
				for _, msg := range []string{"one", "two", "three"} {
					assert.NoError(t, conn.Send(ctx, []byte(msg)))
				}
				<-ctx.Done()
			})

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn, err := Dialer{Config: cfg}.Dial(ctx, url)
			require.NoError(t, err)

			for _, want := range []string{"one", "two", "three"} {
				got, err := conn.Receive(ctx)
				require.NoError(t, err)
				require.Equal(t, want, string(got))
			}

			require.NoError(t, conn.Close())
			select {
			case <-ended:
			case <-ctx.Done():
				t.Fatal("session did not observe the client closing")
			}
		})
	}
}

func TestServerCloseEndsClient(t *testing.T) {
	url := serve(t, protocol.DefaultConfig(), func(ctx context.Context, conn protocol.Connection) {
		_ = conn.Send(ctx, []byte("bye"))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dialer{Config: protocol.DefaultConfig()}.Dial(ctx, url)
	require.NoError(t, err)

	got, err := conn.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "bye", string(got))

	_, err = conn.Receive(ctx)
	require.ErrorIs(t, err, protocol.ErrConnectionClosed)

	select {
	case <-conn.Done():
	case <-ctx.Done():
		t.Fatal("done channel not closed")
	}
	require.ErrorIs(t, conn.Send(ctx, []byte("late")), protocol.ErrConnectionClosed)
}

func TestReceiveHonoursContext(t *testing.T) {
	url := serve(t, protocol.DefaultConfig(), func(ctx context.Context, conn protocol.Connection) {
		<-ctx.Done()
	})

	conn, err := Dialer{Config: protocol.DefaultConfig()}.Dial(context.Background(), url)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = conn.Receive(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dialer{}.Dial(ctx, "ws://127.0.0.1:1/none")
	require.ErrorIs(t, err, protocol.ErrDialFailed)
}
