package config

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lineage.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `version: 1
filters: [steamwebhelper, CrashReporter]
killWhitelist: [launcher]
deepKill: true
pollInterval: 250ms
discoveryTimeout: 10s
forgetAfter: 0
api:
  addr: 127.0.0.1:9000
uriOpener: [xdg-open]
`)

	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got, want := cfg.Path, path; got != want {
		t.Fatalf("unexpected path: got %q want %q", got, want)
	}
	if got := strings.Join(cfg.Filters, ","); got != "steamwebhelper,CrashReporter" {
		t.Fatalf("unexpected filters: %q", got)
	}
	if len(cfg.KillWhitelist) != 1 || cfg.KillWhitelist[0] != "launcher" {
		t.Fatalf("unexpected kill whitelist: %v", cfg.KillWhitelist)
	}
	if !cfg.DeepKill {
		t.Fatalf("expected deepKill to be set")
	}
	if got, want := cfg.PollInterval.Duration, 250*time.Millisecond; got != want {
		t.Fatalf("pollInterval mismatch: got %s want %s", got, want)
	}
	if got, want := cfg.DiscoveryTimeout.Duration, 10*time.Second; got != want {
		t.Fatalf("discoveryTimeout mismatch: got %s want %s", got, want)
	}
	if cfg.ForgetAfter.Duration != 0 || !cfg.ForgetAfter.IsSet() {
		t.Fatalf("explicit zero forgetAfter should survive defaults, got %+v", cfg.ForgetAfter)
	}
	if got, want := cfg.API.Addr, "127.0.0.1:9000"; got != want {
		t.Fatalf("api addr mismatch: got %q want %q", got, want)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Path != "" {
		t.Fatalf("expected empty path for defaults, got %q", cfg.Path)
	}
	if got, want := cfg.PollInterval.Duration, defaultPollInterval; got != want {
		t.Fatalf("pollInterval default mismatch: got %s want %s", got, want)
	}
	if got, want := cfg.ForgetAfter.Duration, defaultForgetAfter; got != want {
		t.Fatalf("forgetAfter default mismatch: got %s want %s", got, want)
	}
	if got, want := cfg.API.Addr, defaultAPIAddr; got != want {
		t.Fatalf("api addr default mismatch: got %q want %q", got, want)
	}

	if _, err := Load(path, true); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist for explicit missing file, got %v", err)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""), true)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got, want := cfg.DiscoveryTimeout.Duration, defaultDiscoveryTimeout; got != want {
		t.Fatalf("discoveryTimeout default mismatch: got %s want %s", got, want)
	}
}

func TestLoadRejectsInvalidDocuments(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "unknown key", body: "pollIntervall: 1s\n", want: "schema validation failed"},
		{name: "wrong type", body: "deepKill: yes please\n", want: "deepKill"},
		{name: "bad duration", body: "pollInterval: soon\n", want: "pollInterval"},
		{name: "empty filter", body: "filters: [\"\"]\n", want: "filters[0]"},
		{name: "nested unknown key", body: "api:\n  port: 80\n", want: "api"},
		{name: "non-positive poll", body: "pollInterval: 0s\n", want: "pollInterval must be positive"},
		{name: "negative retention", body: "forgetAfter: -1m\n", want: "forgetAfter must not be negative"},
		{name: "duplicate whitelist", body: "killWhitelist: [Launcher, launcher]\n", want: "killWhitelist[1]: duplicates"},
		{name: "bad address", body: "api:\n  addr: localhost\n", want: "api.addr"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body), true)
			if err == nil {
				t.Fatalf("expected error for %q", tc.body)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("unexpected error: got %q want substring %q", err, tc.want)
			}
		})
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "filters: [ignored]\npollInterval: 2s\n")

	t.Setenv("LINEAGE_FILTERS", "alpha, beta,,")
	t.Setenv("LINEAGE_KILL_WHITELIST", "keep")
	t.Setenv("LINEAGE_DEEP_KILL", "true")
	t.Setenv("LINEAGE_POLL_INTERVAL", "100ms")
	t.Setenv("LINEAGE_FORGET_AFTER", "0s")
	t.Setenv("LINEAGE_API_ADDR", ":8088")

	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := strings.Join(cfg.Filters, ","); got != "alpha,beta" {
		t.Fatalf("filters override mismatch: %q", got)
	}
	if len(cfg.KillWhitelist) != 1 || cfg.KillWhitelist[0] != "keep" {
		t.Fatalf("whitelist override mismatch: %v", cfg.KillWhitelist)
	}
	if !cfg.DeepKill {
		t.Fatalf("expected deep kill from environment")
	}
	if got, want := cfg.PollInterval.Duration, 100*time.Millisecond; got != want {
		t.Fatalf("pollInterval override mismatch: got %s want %s", got, want)
	}
	if cfg.ForgetAfter.Duration != 0 {
		t.Fatalf("expected explicit zero forgetAfter, got %s", cfg.ForgetAfter.Duration)
	}
	if got, want := cfg.API.Addr, ":8088"; got != want {
		t.Fatalf("api addr override mismatch: got %q want %q", got, want)
	}
}

func TestLoadEnvironmentOverrideErrors(t *testing.T) {
	t.Setenv("LINEAGE_DEEP_KILL", "sometimes")
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), false)
	if err == nil || !strings.Contains(err.Error(), "LINEAGE_DEEP_KILL") {
		t.Fatalf("expected LINEAGE_DEEP_KILL error, got %v", err)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Filters = []string{"helper"}
	cfg.DeepKill = true

	var buf bytes.Buffer
	if err := Encode(&buf, cfg); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"pollInterval: 1s", "forgetAfter: 5m0s", "deepKill: true", "- helper", "addr: 127.0.0.1:7878"} {
		if !strings.Contains(out, want) {
			t.Fatalf("encoded config missing %q:\n%s", want, out)
		}
	}

	parsed, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse returned error: %v\n%s", err, out)
	}
	if parsed.PollInterval.Duration != cfg.PollInterval.Duration {
		t.Fatalf("pollInterval changed across encode: %s", parsed.PollInterval.Duration)
	}
}
