package mesh

import "time"

// Config holds the core timing knobs.
type Config struct {
	// ApplyDelay is how long a received signal waits before it is applied,
	// giving a just-created transport time to finish its own setup.
	ApplyDelay time.Duration
	// RecreateCooldown separates disposing a broken connection from creating
	// its replacement; recreating immediately reproduces the same failure.
	RecreateCooldown time.Duration
	// ProbeInterval is the ping period on connected links.
	ProbeInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		ApplyDelay:       100 * time.Millisecond,
		RecreateCooldown: 2 * time.Second,
		ProbeInterval:    2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ApplyDelay < 0 {
		c.ApplyDelay = def.ApplyDelay
	}
	if c.RecreateCooldown < 0 {
		c.RecreateCooldown = def.RecreateCooldown
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = def.ProbeInterval
	}
	return c
}
