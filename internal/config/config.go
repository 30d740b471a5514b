// Package config holds the runtime-settable surface of the meshlink
// engine (C12): nickname, download directory, listen port, auto-accept
// policy and the various background-loop intervals. It follows the
// teacher's DefaultNetworkConfig/functional-field pattern rather than a
// struct tag/env-var loader, since the spec explicitly treats
// configuration loading from disk as an external shell concern.
package config

import (
	"fmt"
	"time"

	"github.com/meshlink/meshlink/internal/merr"
)

// Config is the full set of options C8 and its sub-managers read.
type Config struct {
	Nickname                string
	DownloadFolder          string
	Port                    int
	AutoAcceptFiles         bool
	MaxConcurrentDownloads  int
	MessageTTL              time.Duration
	SyncInterval            time.Duration
	RetryInterval           time.Duration
	CleanupInterval         time.Duration
	MaxRetryAttempts        int
	MaxBatchSize            int
	QueryInterval           time.Duration
	AnnounceInterval        time.Duration
	CleanupIntervalDiscover time.Duration
	TTL                     time.Duration
}

// Option mutates a Config during construction.
type Option func(*Config)

func WithNickname(n string) Option        { return func(c *Config) { c.Nickname = n } }
func WithDownloadFolder(p string) Option  { return func(c *Config) { c.DownloadFolder = p } }
func WithPort(p int) Option               { return func(c *Config) { c.Port = p } }
func WithAutoAcceptFiles(b bool) Option   { return func(c *Config) { c.AutoAcceptFiles = b } }
func WithMaxConcurrentDownloads(n int) Option {
	return func(c *Config) { c.MaxConcurrentDownloads = n }
}

// Default returns the configuration defaults enumerated in spec §4.12
// and §4.1.
func Default() *Config {
	return &Config{
		Nickname:                "Anonymous",
		DownloadFolder:          "downloads",
		Port:                    0,
		AutoAcceptFiles:         false,
		MaxConcurrentDownloads:  3,
		MessageTTL:              604_800 * time.Second,
		SyncInterval:            30 * time.Second,
		RetryInterval:           300 * time.Second,
		CleanupInterval:         3600 * time.Second,
		MaxRetryAttempts:        10,
		MaxBatchSize:            50,
		QueryInterval:           300 * time.Second,
		AnnounceInterval:        15 * time.Second,
		CleanupIntervalDiscover: 30 * time.Second,
		TTL:                     120 * time.Second,
	}
}

// New builds a Config from Default() plus the given options.
func New(opts ...Option) *Config {
	c := Default()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate enforces the construction-time bounds of spec §4.1 plus the
// ambient ones (nickname length, positive concurrency).
func (c *Config) Validate() error {
	if l := len(c.Nickname); l < 1 || l > 64 {
		return merr.Invalid("config.Validate", fmt.Errorf("nickname length %d out of range [1,64]", l))
	}
	if c.TTL < 60*time.Second || c.TTL > 24*time.Hour {
		return merr.Invalid("config.Validate", fmt.Errorf("ttl %s out of range [60s,24h]", c.TTL))
	}
	if c.QueryInterval < 5*time.Second || c.QueryInterval > time.Hour {
		return merr.Invalid("config.Validate", fmt.Errorf("query_interval %s out of range [5s,1h]", c.QueryInterval))
	}
	if c.AnnounceInterval < 5*time.Second || c.AnnounceInterval > 10*time.Minute {
		return merr.Invalid("config.Validate", fmt.Errorf("announce_interval %s out of range [5s,10m]", c.AnnounceInterval))
	}
	if c.CleanupIntervalDiscover < 10*time.Second || c.CleanupIntervalDiscover > 5*time.Minute {
		return merr.Invalid("config.Validate", fmt.Errorf("cleanup_interval %s out of range [10s,5m]", c.CleanupIntervalDiscover))
	}
	if c.MaxConcurrentDownloads < 1 {
		return merr.Invalid("config.Validate", fmt.Errorf("max_concurrent_downloads must be >= 1"))
	}
	return nil
}
