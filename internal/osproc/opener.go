package osproc

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/Paintersrp/lineage/internal/launch"
)

// DefaultOpener returns the URI handler command for the current platform.
func DefaultOpener() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"rundll32", "url.dll,FileProtocolHandler"}
	case "darwin":
		return []string{"open"}
	default:
		return []string{"xdg-open"}
	}
}

// Opener activates URIs through the desktop handler and discovers the
// process that appears for the requested target.
type Opener struct {
	// Command is the handler argv; the URI is appended. Defaults to
	// DefaultOpener.
	Command  []string
	Host     Host
	Interval time.Duration
	Timeout  time.Duration
}

var (
	_ launch.URILauncher         = Opener{}
	_ launch.DeferredURILauncher = Opener{}
)

// LaunchURI activates info.URI and waits for info.Target to appear.
func (o Opener) LaunchURI(ctx context.Context, info launch.URIStartInfo) (int, error) {
	d := o.discoverer()
	seen, err := d.baseline(ctx)
	if err != nil {
		return 0, err
	}
	if err := o.activate(info.URI); err != nil {
		return 0, err
	}
	return d.await(ctx, seen, info.Target, d.matchTarget(info.Target))
}

// LaunchURIDeferred activates info.URI and reports discovery through
// discovered from a background goroutine.
func (o Opener) LaunchURIDeferred(info launch.URIStartInfo, discovered func(int, error)) error {
	d := o.discoverer()
	seen, err := d.baseline(context.Background())
	if err != nil {
		return err
	}
	if err := o.activate(info.URI); err != nil {
		return err
	}
	go func() {
		discovered(d.await(context.Background(), seen, info.Target, d.matchTarget(info.Target)))
	}()
	return nil
}

func (o Opener) activate(uri string) error {
	argv := o.Command
	if len(argv) == 0 {
		argv = DefaultOpener()
	}
	cmd := exec.Command(argv[0], append(append([]string(nil), argv[1:]...), uri)...)
	if err := detach(cmd); err != nil {
		return fmt.Errorf("open %s with %s: %w", uri, argv[0], err)
	}
	return nil
}

func (o Opener) discoverer() discoverer {
	return discoverer{enum: o.Host, resolver: o.Host, interval: o.Interval, timeout: o.Timeout}
}
