package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file looked up when no path is given.
const DefaultFile = "lineage.yaml"

const envPrefix = "LINEAGE_"

// Load reads a configuration document from path. A missing file yields the
// defaults unless explicit is set. Environment overrides are applied last.
func Load(path string, explicit bool) (*Config, error) {
	if path == "" {
		path = DefaultFile
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		cfg := &Config{}
		return finish(cfg, "defaults")
	case err != nil:
		return nil, fmt.Errorf("open config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.Path = absPath
	return finish(cfg, absPath)
}

// Parse decodes and schema-validates a configuration document without
// applying defaults or environment overrides.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if raw == nil {
		raw = make(map[string]any)
	}
	if err := validateAgainstSchema(raw); err != nil {
		return nil, err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var cfg Config
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &cfg, nil
}

func finish(cfg *Config, source string) (*Config, error) {
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		value, ok := lookup(envPrefix + name)
		if !ok {
			return "", false
		}
		return strings.TrimSpace(value), true
	}

	if v, ok := get("FILTERS"); ok {
		cfg.Filters = splitList(v)
	}
	if v, ok := get("KILL_WHITELIST"); ok {
		cfg.KillWhitelist = splitList(v)
	}
	if v, ok := get("DEEP_KILL"); ok {
		deep, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sDEEP_KILL: %w", envPrefix, err)
		}
		cfg.DeepKill = deep
	}
	durations := []struct {
		name string
		dst  *Duration
	}{
		{"POLL_INTERVAL", &cfg.PollInterval},
		{"DISCOVERY_TIMEOUT", &cfg.DiscoveryTimeout},
		{"FORGET_AFTER", &cfg.ForgetAfter},
	}
	for _, d := range durations {
		v, ok := get(d.name)
		if !ok {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, d.name, err)
		}
		*d.dst = Duration{Duration: dur, explicit: true}
	}
	if v, ok := get("API_ADDR"); ok && v != "" {
		cfg.API.Addr = v
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Encode renders cfg as YAML.
func Encode(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
