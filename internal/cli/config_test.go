package cli

import (
	stdcontext "context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lineage.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root, ctx := newRootCommand()
	table := newProcTable()
	ctx.newEnv = table.env
	ctx.newLaunchers = table.launchers
	var stdout, stderr syncBuffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(stdcontext.Background())
	return stdout.String(), stderr.String(), err
}

func TestConfigLintValidFile(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `version: "1"
filters: [conhost]
killWhitelist: [explorer]
pollInterval: 250ms
`)
	stdout, _, err := runRoot(t, "--config", path, "config", "lint")
	if err != nil {
		t.Fatalf("config lint: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(stdout), ": OK") {
		t.Fatalf("expected OK output, got %q", stdout)
	}
	if !strings.Contains(stdout, "lineage.yaml") {
		t.Fatalf("expected path in output, got %q", stdout)
	}
}

func TestConfigLintReportsErrors(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `pollInterval: 0s
`)
	_, stderr, err := runRoot(t, "--config", path, "config", "lint")
	if err == nil {
		t.Fatalf("expected lint failure")
	}
	if !strings.Contains(stderr, "pollInterval") {
		t.Fatalf("expected pollInterval error on stderr, got %q", stderr)
	}
}

func TestConfigLintExplicitMissingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "absent.yaml")
	_, _, err := runRoot(t, "--config", path, "config", "lint")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestConfigPrintYAML(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `filters: [conhost]
forgetAfter: 0s
`)
	stdout, _, err := runRoot(t, "--config", path, "config", "print")
	if err != nil {
		t.Fatalf("config print: %v", err)
	}
	for _, want := range []string{"filters:", "- conhost", "forgetAfter: 0s", "pollInterval: 1s", "addr: 127.0.0.1:7878"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, stdout)
		}
	}
}
