package protocol

import "context"

// Handlers receive the inbound side of a connection.
type Handlers struct {
	OnMessage func(data []byte)
	OnError   func(err error)
}

// Pump reads frames from conn and hands each to h.OnMessage until Receive
// fails or ctx ends. The terminating error goes to h.OnError exactly once and
// is returned.
func Pump(ctx context.Context, conn Connection, h Handlers) error {
	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			return err
		}
		if h.OnMessage != nil {
			h.OnMessage(data)
		}
	}
}
