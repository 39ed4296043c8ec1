package config

import (
	"sync/atomic"

	"vigil/correlation"
)

// Provider hands out the current configuration snapshot. It implements
// correlation.SettingsProvider: the correlation service reads settings once
// per call and never caches them, so a reload takes effect on the next call.
type Provider struct {
	current atomic.Pointer[Config]
}

// NewProvider creates a provider over an initial snapshot.
func NewProvider(cfg *Config) *Provider {
	p := &Provider{}
	p.current.Store(cfg)
	return p
}

// Snapshot returns the current configuration.
func (p *Provider) Snapshot() *Config {
	return p.current.Load()
}

// Swap installs a new snapshot. Validate it first; live snapshots are never
// mutated in place.
func (p *Provider) Swap(cfg *Config) {
	p.current.Store(cfg)
}

// Correlation implements correlation.SettingsProvider.
func (p *Provider) Correlation() correlation.Settings {
	return p.current.Load().Correlation
}

var _ correlation.SettingsProvider = (*Provider)(nil)
