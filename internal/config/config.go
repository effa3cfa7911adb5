// Package config loads the YAML configuration shared by the serve and watch
// commands.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/serversignal/internal/core/diff"
	"github.com/zeusync/serversignal/internal/core/observability/log"
	"github.com/zeusync/serversignal/internal/core/protocol"
)

const (
	TransportWebSocket = "websocket"
	TransportQUIC      = "quic"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Wire   WireConfig   `yaml:"wire"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
	// Path is the websocket route.
	Path string `yaml:"path"`
	// QUICListen enables the QUIC listener when set.
	QUICListen  string        `yaml:"quic_listen,omitempty"`
	Tick        time.Duration `yaml:"tick"`
	MetricsPath string        `yaml:"metrics_path"`
	// MaxSessions caps concurrent connections. Zero means no cap.
	MaxSessions  int           `yaml:"max_sessions,omitempty"`
	Token        string        `yaml:"token,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	KeepAlive    time.Duration `yaml:"keep_alive"`
}

type ClientConfig struct {
	Target               string        `yaml:"target"`
	Transport            string        `yaml:"transport"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts,omitempty"`
	Token                string        `yaml:"token,omitempty"`
}

type WireConfig struct {
	Envelope string `yaml:"envelope"`
	Diff     string `yaml:"diff"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:       "127.0.0.1:8080",
			Path:         "/signal",
			Tick:         time.Second,
			MetricsPath:  "/metrics",
			WriteTimeout: 10 * time.Second,
			KeepAlive:    30 * time.Second,
		},
		Client: ClientConfig{
			Target:         "ws://127.0.0.1:8080/signal",
			Transport:      TransportWebSocket,
			ReconnectDelay: 5 * time.Second,
			DialTimeout:    10 * time.Second,
		},
		Wire: WireConfig{
			Envelope: protocol.CodecJSON,
			Diff:     diff.VariantPatch,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return LoadYAML(f)
}

// LoadYAML decodes r over the defaults and validates the result.
func LoadYAML(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if len(c.Server.Path) == 0 || c.Server.Path[0] != '/' {
		errs = append(errs, fmt.Errorf("server.path %q must start with /", c.Server.Path))
	}
	if c.Server.Tick <= 0 {
		errs = append(errs, errors.New("server.tick must be positive"))
	}
	if c.Server.MaxSessions < 0 {
		errs = append(errs, errors.New("server.max_sessions must not be negative"))
	}
	if c.Client.Transport != TransportWebSocket && c.Client.Transport != TransportQUIC {
		errs = append(errs, fmt.Errorf("client.transport %q is not websocket or quic", c.Client.Transport))
	}
	if c.Client.ReconnectDelay < 0 || c.Client.DialTimeout < 0 || c.Client.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("client durations and attempts must not be negative"))
	}
	if _, err := protocol.CodecByName(c.Wire.Envelope); err != nil {
		errs = append(errs, err)
	}
	if c.Wire.Diff != diff.VariantPatch && c.Wire.Diff != diff.VariantDelta {
		errs = append(errs, fmt.Errorf("%w: %q", diff.ErrUnknownVariant, c.Wire.Diff))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format %q is not json or console", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Transport returns the transport settings for the server side.
func (c Config) Transport() protocol.Config {
	tc := protocol.DefaultConfig()
	tc.WriteTimeout = c.Server.WriteTimeout
	tc.KeepAlive = c.Server.KeepAlive
	tc.Binary = c.Wire.Envelope == protocol.CodecBinary
	return tc
}

// Logger builds the process logger.
func (c Config) Logger() (*log.Logger, error) {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	return log.New(log.Config{Level: level, Format: c.Log.Format})
}
