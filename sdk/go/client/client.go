// Package client keeps a replica registry fed from a server connection. When
// the connection drops it waits, dials the same target again and keeps
// delivering into the same registry.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/serversignal/internal/core/observability/log"
	"github.com/zeusync/serversignal/internal/core/observability/metrics"
	"github.com/zeusync/serversignal/internal/core/protocol"
	"github.com/zeusync/serversignal/internal/core/replica"
)

// Client represents one logical subscription to a server
type Client struct {
	dialer   protocol.Dialer
	registry *replica.Registry

	// Connection management
	connMu sync.RWMutex
	conn   protocol.Connection

	// Event handlers
	eventHandlers map[EventType][]EventHandler
	handlerMutex  sync.RWMutex

	// Lifecycle
	running   int32 // atomic bool
	connected int32 // atomic bool
	closed    int32 // atomic bool
	done      chan struct{}

	// Configuration and logging
	config  Config
	logger  log.Log
	metrics *metrics.Metrics
}

// Config holds configuration for the client
type Config struct {
	Target string
	// ReconnectDelay is the pause between losing a connection and dialing again.
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	// MaxReconnectAttempts bounds consecutive failed dials. Zero means unlimited.
	MaxReconnectAttempts int
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		Target:         "ws://localhost:8080/signal",
		ReconnectDelay: 5 * time.Second,
		DialTimeout:    10 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.ReconnectDelay < 0 || c.DialTimeout < 0 || c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%w: negative duration or attempt count", ErrInvalidConfig)
	}
	return nil
}

// EventHandler defines a function type for handling client events
type EventHandler func(event Event) error

// EventType represents different types of client events
type EventType string

const (
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeReconnecting EventType = "reconnecting"
)

// Event represents a client event
type Event struct {
	Type      EventType
	Timestamp time.Time
	Target    string
	Attempt   int
	Error     error
}

type Option func(*Client)

func WithLogger(logger log.Log) Option {
	return func(c *Client) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a client that feeds registry from connections made by dialer.
func New(dialer protocol.Dialer, registry *replica.Registry, config Config, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		dialer:        dialer,
		registry:      registry,
		eventHandlers: make(map[EventType][]EventHandler),
		done:          make(chan struct{}),
		config:        config,
		logger:        log.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(log.Component("client"), log.String("target", config.Target))
	return c, nil
}

// Run connects and delivers inbound envelopes to the registry until ctx is
// cancelled or Close is called. A lost connection is redialed after
// ReconnectDelay. A Close during Run makes it return nil. Run returns
// ErrClientClosed on a client that is already closed, ctx.Err() on
// cancellation and ErrReconnectFailed once MaxReconnectAttempts consecutive
// dials fail.
func (c *Client) Run(ctx context.Context) error {
	if c.IsClosed() {
		return ErrClientClosed
	}
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return ErrAlreadyRunning
	}
	defer atomic.StoreInt32(&c.running, 0)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	failures := 0
	for {
		conn, err := c.dial(ctx)
		switch {
		case err == nil:
			failures = 0
			c.serve(ctx, conn)
		case ctx.Err() != nil:
		default:
			failures++
			c.logger.Warn("Failed to connect", log.Int("attempt", failures), log.Error(err))
			if c.config.MaxReconnectAttempts > 0 && failures >= c.config.MaxReconnectAttempts {
				return fmt.Errorf("%w after %d attempts: %w", ErrReconnectFailed, failures, err)
			}
		}

		if stop := c.stopped(ctx); stop != nil || c.IsClosed() {
			return stop
		}

		timer := time.NewTimer(c.config.ReconnectDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return c.stopped(ctx)
		}

		c.metrics.Reconnect()
		c.logger.Info("Reconnecting", log.Int("attempt", failures+1))
		c.emitEvent(Event{Type: EventTypeReconnecting, Timestamp: time.Now(), Target: c.config.Target, Attempt: failures + 1})
	}
}

// stopped reports why Run should return, or nil to keep going.
func (c *Client) stopped(ctx context.Context) error {
	if c.IsClosed() {
		return nil
	}
	return ctx.Err()
}

func (c *Client) dial(ctx context.Context) (protocol.Connection, error) {
	if c.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.DialTimeout)
		defer cancel()
	}
	return c.dialer.Dial(ctx, c.config.Target)
}

// serve pumps conn into the registry until the connection ends.
func (c *Client) serve(ctx context.Context, conn protocol.Connection) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	atomic.StoreInt32(&c.connected, 1)

	c.logger.Info("Connected to server", log.String("connection_id", conn.ID()), log.String("remote_addr", conn.RemoteAddr()))
	c.emitEvent(Event{Type: EventTypeConnected, Timestamp: time.Now(), Target: c.config.Target})

	err := protocol.Pump(ctx, conn, c.registry.Handlers())

	atomic.StoreInt32(&c.connected, 0)
	c.connMu.Lock()
	c.conn = nil
	c.connMu.Unlock()
	_ = conn.Close()

	if errors.Is(err, context.Canceled) || c.IsClosed() {
		c.logger.Debug("Connection released")
	} else {
		c.logger.Warn("Connection lost", log.Error(err))
	}
	c.emitEvent(Event{Type: EventTypeDisconnected, Timestamp: time.Now(), Target: c.config.Target, Error: err})
}

// Conn returns the current connection.
func (c *Client) Conn() (protocol.Connection, error) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// Registry returns the registry the client delivers into.
func (c *Client) Registry() *replica.Registry {
	return c.registry
}

// Connected returns true if the client currently holds a connection
func (c *Client) Connected() bool {
	return atomic.LoadInt32(&c.connected) == 1
}

// IsClosed returns true if the client is closed
func (c *Client) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// Close stops Run and closes the current connection. The registry and its
// replicas are left intact.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	close(c.done)

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn != nil {
		_ = conn.Close()
	}

	c.logger.Info("Client closed")
	return nil
}

// OnEvent registers an event handler for a specific event type
func (c *Client) OnEvent(eventType EventType, handler EventHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()

	c.eventHandlers[eventType] = append(c.eventHandlers[eventType], handler)
}

// emitEvent emits an event to registered handlers
func (c *Client) emitEvent(event Event) {
	c.handlerMutex.RLock()
	handlers := c.eventHandlers[event.Type]
	c.handlerMutex.RUnlock()

	for _, handler := range handlers {
		go func(h EventHandler) {
			if err := h(event); err != nil {
				c.logger.Error("Event handler error", log.String("event", string(event.Type)), log.Error(err))
			}
		}(handler)
	}
}
