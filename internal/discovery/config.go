package discovery

import (
	"time"

	"github.com/meshlink/meshlink/internal/merr"
)

// Config bounds are enforced by Validate at construction, exactly the
// ranges spec §4.1 names.
type Config struct {
	Nickname         string
	TTL              time.Duration
	QueryInterval    time.Duration
	AnnounceInterval time.Duration
	CleanupInterval  time.Duration
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig(nickname string) Config {
	return Config{
		Nickname:         nickname,
		TTL:              120 * time.Second,
		QueryInterval:    300 * time.Second,
		AnnounceInterval: 15 * time.Second,
		CleanupInterval:  30 * time.Second,
	}
}

// Validate enforces the bounds named in spec §4.1.
func (c Config) Validate() error {
	if l := len(c.Nickname); l < 1 || l > 64 {
		return merr.Invalid("discovery.Config.Validate", merr.ErrInvalidConfig)
	}
	if c.TTL < 60*time.Second || c.TTL > 24*time.Hour {
		return merr.Invalid("discovery.Config.Validate", merr.ErrInvalidConfig)
	}
	if c.QueryInterval < 5*time.Second || c.QueryInterval > time.Hour {
		return merr.Invalid("discovery.Config.Validate", merr.ErrInvalidConfig)
	}
	if c.AnnounceInterval < 5*time.Second || c.AnnounceInterval > 10*time.Minute {
		return merr.Invalid("discovery.Config.Validate", merr.ErrInvalidConfig)
	}
	if c.CleanupInterval < 10*time.Second || c.CleanupInterval > 5*time.Minute {
		return merr.Invalid("discovery.Config.Validate", merr.ErrInvalidConfig)
	}
	return nil
}
