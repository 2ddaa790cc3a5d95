package config

import (
	"fmt"
	"time"
)

const (
	defaultPollInterval     = time.Second
	defaultDiscoveryTimeout = 30 * time.Second
	defaultForgetAfter      = 5 * time.Minute
	defaultAPIAddr          = "127.0.0.1:7878"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Config mirrors the lineage.yaml document structure.
type Config struct {
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
	// Filters names processes, case-insensitively, that are tracked but not
	// reported when discovered.
	Filters []string `yaml:"filters" json:"filters"`
	// KillWhitelist holds name prefixes that Kill never terminates.
	KillWhitelist []string `yaml:"killWhitelist" json:"killWhitelist"`
	DeepKill      bool     `yaml:"deepKill" json:"deepKill"`

	PollInterval     Duration `yaml:"pollInterval" json:"pollInterval"`
	DiscoveryTimeout Duration `yaml:"discoveryTimeout" json:"discoveryTimeout"`
	// ForgetAfter removes exited trees from the registry. An explicit zero
	// keeps them until they are killed or the process exits.
	ForgetAfter Duration `yaml:"forgetAfter" json:"forgetAfter"`

	API APISpec `yaml:"api" json:"api"`
	// URIOpener overrides the platform command used to activate URIs. The
	// URI is appended as the final argument.
	URIOpener []string `yaml:"uriOpener,omitempty" json:"uriOpener,omitempty"`

	// Path is the absolute location the document was read from, empty when
	// defaults were used.
	Path string `yaml:"-" json:"path,omitempty"`
}

// APISpec configures the HTTP control API.
type APISpec struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults populates unset fields.
func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "1"
	}
	if !c.PollInterval.IsSet() {
		c.PollInterval.Duration = defaultPollInterval
	}
	if !c.DiscoveryTimeout.IsSet() {
		c.DiscoveryTimeout.Duration = defaultDiscoveryTimeout
	}
	if !c.ForgetAfter.IsSet() {
		c.ForgetAfter.Duration = defaultForgetAfter
	}
	if c.API.Addr == "" {
		c.API.Addr = defaultAPIAddr
	}
}
