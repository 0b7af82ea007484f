package session

import "time"

// Config holds the session-layer policy: admission limits, queue sizes,
// timers and the synthesis cycle budget.
type Config struct {
	// MaxSessions caps concurrent sessions; excess opens fail with
	// ResourceExhausted.
	MaxSessions int
	// OpenRate and OpenBurst bound how fast new sessions may be admitted.
	OpenRate  float64
	OpenBurst int
	// InboundQueue bounds queued-but-unprocessed messages per session;
	// overflow drops the oldest with a Backpressure status.
	InboundQueue int
	// OutboundQueue bounds the dispatcher's ordered event queue.
	OutboundQueue int
	// IdleInterval moves ACTIVE sessions to IDLE; IdleCeiling closes
	// sessions idle past the hard limit.
	IdleInterval time.Duration
	IdleCeiling  time.Duration
	// CycleBudget bounds one synthesis cycle end to end.
	CycleBudget time.Duration
	// WindowSize is the context window capacity in messages.
	WindowSize int
	// HistorySize bounds the per-session novelty history.
	HistorySize int
	// RetrieveLimit caps chunks fetched per cycle.
	RetrieveLimit int
}

// DefaultConfig returns the default session policy.
func DefaultConfig() Config {
	return Config{
		MaxSessions:   1024,
		OpenRate:      50,
		OpenBurst:     100,
		InboundQueue:  8,
		OutboundQueue: 32,
		IdleInterval:  30 * time.Second,
		IdleCeiling:   10 * time.Minute,
		CycleBudget:   6 * time.Second,
		WindowSize:    20,
		HistorySize:   32,
		RetrieveLimit: 8,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxSessions <= 0 {
		c.MaxSessions = def.MaxSessions
	}
	if c.OpenRate <= 0 {
		c.OpenRate = def.OpenRate
	}
	if c.OpenBurst <= 0 {
		c.OpenBurst = def.OpenBurst
	}
	if c.InboundQueue <= 0 {
		c.InboundQueue = def.InboundQueue
	}
	if c.OutboundQueue <= 0 {
		c.OutboundQueue = def.OutboundQueue
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = def.IdleInterval
	}
	if c.IdleCeiling <= 0 {
		c.IdleCeiling = def.IdleCeiling
	}
	if c.CycleBudget <= 0 {
		c.CycleBudget = def.CycleBudget
	}
	if c.WindowSize <= 0 {
		c.WindowSize = def.WindowSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	if c.RetrieveLimit <= 0 {
		c.RetrieveLimit = def.RetrieveLimit
	}
	return c
}
