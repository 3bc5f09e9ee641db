package session

import "time"

// Config defines runtime configuration for the session manager.
type Config struct {
	// RefreshLead is how long before access-token expiry the refresh timer
	// fires. A token expiring sooner than this still gets a timer scheduled
	// (effectively immediate); skipping would leave the session to expire
	// unnoticed.
	RefreshLead time.Duration

	// RetryInterval is the delay before a timer-driven refresh is retried
	// after a transient network failure. Definitive rejections are never
	// retried; they force a logout.
	RetryInterval time.Duration

	// OpTimeout bounds the HTTP calls made from timer callbacks, which have
	// no caller-supplied context.
	OpTimeout time.Duration
}

// DefaultConfig returns the defaults used by the hosted FreeWork backend.
func DefaultConfig() Config {
	return Config{
		RefreshLead:   60 * time.Second,
		RetryInterval: 30 * time.Second,
		OpTimeout:     15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RefreshLead <= 0 {
		c.RefreshLead = d.RefreshLead
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = d.OpTimeout
	}
	return c
}
