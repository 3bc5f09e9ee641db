package realtime

import "time"

// Config defines runtime configuration for the realtime channel.
type Config struct {
	// URL is the WebSocket endpoint, e.g. "ws://localhost:8080/ws".
	URL string

	// ReconnectInterval is the fixed backoff between reconnect attempts.
	ReconnectInterval time.Duration

	// MaxReconnectAttempts bounds automatic reconnection. Once exhausted the
	// channel stays Disconnected until an explicit Connect.
	MaxReconnectAttempts int

	// DialTimeout bounds the WebSocket handshake.
	DialTimeout time.Duration

	// WriteTimeout bounds one outbound frame write.
	WriteTimeout time.Duration

	// ReadLimit caps one inbound frame.
	ReadLimit int64

	// StreamBuffer is the per-subscriber buffer of each event stream.
	StreamBuffer int
}

// DefaultConfig mirrors the hosted backend's client defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectInterval:    3 * time.Second,
		MaxReconnectAttempts: 5,
		DialTimeout:          10 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReadLimit:            1 << 20,
		StreamBuffer:         64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = d.ReconnectInterval
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = d.StreamBuffer
	}
	return c
}
