package protocol

import "time"

// MaxEnvelopeSize bounds a single encoded envelope on every transport.
const MaxEnvelopeSize = 4 << 20

// Config holds transport settings shared by the adapters.
type Config struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize uint32
	// KeepAlive is the ping period on transports that need one.
	KeepAlive time.Duration
	// Binary selects binary frames where the transport distinguishes them.
	Binary bool
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: MaxEnvelopeSize,
		KeepAlive:      30 * time.Second,
	}
}

// Limit returns the effective frame size limit.
func (c Config) Limit() int {
	if c.MaxMessageSize == 0 {
		return MaxEnvelopeSize
	}
	return int(c.MaxMessageSize)
}
