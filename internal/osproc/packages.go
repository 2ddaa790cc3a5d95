package osproc

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/Paintersrp/lineage/internal/launch"
	"github.com/Paintersrp/lineage/internal/proctree"
)

// Packages activates packaged applications. On Linux the family is a
// Flatpak application id and appID the command to run inside it; the
// flatpak process itself becomes the root. On Windows the pair names an
// AppX application and the first new non-helper process is adopted.
type Packages struct {
	Host     Host
	Interval time.Duration
	Timeout  time.Duration
}

var _ launch.PackageLauncher = Packages{}

// LaunchPackage starts the application and returns the pid of its root.
func (p Packages) LaunchPackage(ctx context.Context, family, appID string, args []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	switch runtime.GOOS {
	case "linux":
		return p.flatpak(family, appID, args)
	case "windows":
		return p.appx(ctx, family, appID)
	default:
		return 0, fmt.Errorf("packaged application %s: %w", family, ErrUnsupported)
	}
}

func (p Packages) flatpak(family, appID string, args []string) (int, error) {
	argv := append([]string{"run", "--command=" + appID, family}, args...)
	cmd := exec.Command("flatpak", argv...)
	if err := configureCmdSysProcAttr(cmd, false); err != nil {
		return 0, err
	}
	if err := detach(cmd); err != nil {
		return 0, fmt.Errorf("flatpak run %s: %w", family, err)
	}
	return cmd.Process.Pid, nil
}

func (p Packages) appx(ctx context.Context, family, appID string) (int, error) {
	d := discoverer{enum: p.Host, interval: p.Interval, timeout: p.Timeout}
	seen, err := d.baseline(ctx)
	if err != nil {
		return 0, err
	}
	target := `shell:AppsFolder\` + family + "!" + appID
	if err := detach(exec.Command("explorer.exe", target)); err != nil {
		return 0, fmt.Errorf("activate %s: %w", target, err)
	}
	return d.await(ctx, seen, target, func(_ context.Context, entry proctree.Entry) bool {
		return !isHelper(entry.Name)
	})
}

func isHelper(name string) bool {
	lower := strings.ToLower(name)
	for _, fragment := range proctree.NoisyHelpers() {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
