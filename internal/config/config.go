// Package config provides HCL configuration handling for cordon.
//
// The config file is read-only input to the engine: a collaborator CLI owns
// editing it, so only decoding (hclsimple) is needed here, no round-trip
// source preservation.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"grimm.is/cordon/internal/brand"
)

// Config is the engine configuration decoded from cordon.hcl.
type Config struct {
	// WhitelistFile is the plain-text domain whitelist, one domain per line.
	WhitelistFile string `hcl:"whitelist_file,optional"`

	// DependencyHintsFile is an optional second list of CDN/font/API hosts
	// produced by an external discovery collaborator.
	DependencyHintsFile string `hcl:"dependency_hints_file,optional"`

	// RefreshInterval is how often resolved addresses are re-checked while a
	// restriction is active.
	RefreshInterval string `hcl:"refresh_interval,optional"`

	// ResolveTimeout is the per-DNS-query timeout.
	ResolveTimeout string `hcl:"resolve_timeout,optional"`

	// ResolveRetries bounds resolution attempts per refresh cycle.
	ResolveRetries int `hcl:"resolve_retries,optional"`

	// AllowAllPorts grants full protocol access to whitelisted hosts instead
	// of the default 80/443-only policy.
	AllowAllPorts bool `hcl:"allow_all_ports,optional"`

	// DedicatedWorkstation gates the machine-wide usb-storage module policy.
	// When false only the per-user polkit and udev rules are installed.
	DedicatedWorkstation *bool `hcl:"dedicated_workstation,optional"`

	StateDir string `hcl:"state_dir,optional"`

	LogLevel string `hcl:"log_level,optional"`
	LogJSON  bool   `hcl:"log_json,optional"`
}

// Defaults mirror the shipped cordon.hcl.
const (
	DefaultRefreshInterval = 30 * time.Minute
	DefaultResolveTimeout  = 2 * time.Second
	DefaultResolveRetries  = 3
	DefaultLockTimeout     = 10 * time.Second
)

// Default returns a config with every field at its default.
func Default() *Config {
	dedicated := true
	return &Config{
		WhitelistFile:        filepath.Join(brand.DefaultConfigDir, "whitelist.txt"),
		DependencyHintsFile:  filepath.Join(brand.DefaultConfigDir, "dependencies.txt"),
		RefreshInterval:      DefaultRefreshInterval.String(),
		ResolveTimeout:       DefaultResolveTimeout.String(),
		ResolveRetries:       DefaultResolveRetries,
		AllowAllPorts:        false,
		DedicatedWorkstation: &dedicated,
		StateDir:             brand.GetStateDir(),
		LogLevel:             "info",
	}
}

// applyDefaults fills zero-valued fields in place.
func (c *Config) applyDefaults() {
	d := Default()
	if c.WhitelistFile == "" {
		c.WhitelistFile = d.WhitelistFile
	}
	if c.DependencyHintsFile == "" {
		c.DependencyHintsFile = d.DependencyHintsFile
	}
	if c.RefreshInterval == "" {
		c.RefreshInterval = d.RefreshInterval
	}
	if c.ResolveTimeout == "" {
		c.ResolveTimeout = d.ResolveTimeout
	}
	if c.ResolveRetries == 0 {
		c.ResolveRetries = d.ResolveRetries
	}
	if c.DedicatedWorkstation == nil {
		c.DedicatedWorkstation = d.DedicatedWorkstation
	}
	if c.StateDir == "" {
		c.StateDir = d.StateDir
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// Validate checks durations and numeric bounds.
func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.RefreshInterval); err != nil {
		return fmt.Errorf("invalid refresh_interval %q: %w", c.RefreshInterval, err)
	}
	if _, err := time.ParseDuration(c.ResolveTimeout); err != nil {
		return fmt.Errorf("invalid resolve_timeout %q: %w", c.ResolveTimeout, err)
	}
	if c.ResolveRetries < 1 {
		return fmt.Errorf("resolve_retries must be >= 1, got %d", c.ResolveRetries)
	}
	return nil
}

// RefreshIntervalDuration returns the parsed refresh interval.
// Validate must have been called.
func (c *Config) RefreshIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.RefreshInterval)
	return d
}

// ResolveTimeoutDuration returns the parsed per-query timeout.
func (c *Config) ResolveTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ResolveTimeout)
	return d
}

// IsDedicatedWorkstation reports whether the machine-wide module policy is allowed.
func (c *Config) IsDedicatedWorkstation() bool {
	return c.DedicatedWorkstation != nil && *c.DedicatedWorkstation
}
