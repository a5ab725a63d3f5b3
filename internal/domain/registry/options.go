package registry

import "time"

// Option configures Hub construction.
type Option func(*Hub)

// WithEvictionInterval sets how often the janitor sweeps idle cells.
func WithEvictionInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.config.evictionInterval = d
		}
	}
}

// WithIdleTimeout sets how long a sessionless cell may linger before
// the janitor reclaims it.
func WithIdleTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.config.idleTimeout = d
		}
	}
}

// WithMailboxSize bounds the per-user mailbox.
func WithMailboxSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.config.mailboxSize = n
		}
	}
}
