package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Validate performs semantic validation beyond what the schema expresses.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if c.PollInterval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("pollInterval must be positive, got %s", c.PollInterval.Duration))
	}
	if c.DiscoveryTimeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("discoveryTimeout must be positive, got %s", c.DiscoveryTimeout.Duration))
	}
	if c.ForgetAfter.Duration < 0 {
		errs = append(errs, fmt.Errorf("forgetAfter must not be negative, got %s", c.ForgetAfter.Duration))
	}
	errs = append(errs, validateNames("filters", c.Filters)...)
	errs = append(errs, validateNames("killWhitelist", c.KillWhitelist)...)
	if err := validateAddr(c.API.Addr); err != nil {
		errs = append(errs, fmt.Errorf("api.addr: %w", err))
	}
	if len(c.URIOpener) > 0 && strings.TrimSpace(c.URIOpener[0]) == "" {
		errs = append(errs, errors.New("uriOpener[0]: command must not be empty"))
	}
	return errors.Join(errs...)
}

func validateNames(field string, names []string) []error {
	var errs []error
	seen := make(map[string]int, len(names))
	for idx, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			errs = append(errs, fmt.Errorf("%s[%d]: must not be empty", field, idx))
			continue
		}
		key := strings.ToLower(trimmed)
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("%s[%d]: duplicates %s[%d] (%q)", field, idx, field, prev, name))
			continue
		}
		seen[key] = idx
	}
	return errs
}

func validateAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}
