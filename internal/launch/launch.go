package launch

import (
	"context"
	"errors"
)

var (
	ErrNotInitialized  = errors.New("coordinator not initialized")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrLaunchFailed    = errors.New("launch failed")
	ErrFileMissing     = errors.New("file missing")
)

// StartRequest describes a direct launch.
type StartRequest struct {
	File    string
	Args    []string
	WorkDir string
	// AsUser drops elevated privileges before starting the program.
	AsUser bool
}

// URIStartInfo describes an activation through a URI handler. Target is
// the executable expected to appear; it drives duplicate detection and
// discovery of the spawned process.
type URIStartInfo struct {
	URI    string
	Target string
	Args   []string
}

// PackageRequest describes a packaged application activation.
type PackageRequest struct {
	Family string
	AppID  string
	Args   []string
	// Target optionally names the executable; the package identity is used
	// for duplicate detection when it is empty.
	Target string
}

// Identity returns the key used for duplicate detection.
func (r PackageRequest) Identity() string {
	if r.Target != "" {
		return r.Target
	}
	return r.Family + "!" + r.AppID
}

// DirectLauncher starts an executable and returns its pid.
type DirectLauncher interface {
	Launch(ctx context.Context, file string, args []string, workDir string, asUser bool) (int, error)
}

// URILauncher activates a URI and blocks until the spawned process is
// discovered, the activation fails, or ctx is cancelled.
type URILauncher interface {
	LaunchURI(ctx context.Context, info URIStartInfo) (int, error)
}

// DeferredURILauncher activates a URI without waiting for discovery. The
// returned error reports only the activation attempt; when it is nil,
// discovered is invoked exactly once, later, with the pid or a failure.
type DeferredURILauncher interface {
	LaunchURIDeferred(info URIStartInfo, discovered func(pid int, err error)) error
}

// PackageLauncher activates a packaged application and returns the pid of
// the process that represents it.
type PackageLauncher interface {
	LaunchPackage(ctx context.Context, family, appID string, args []string) (int, error)
}

// Launchers groups the OS launch mechanisms. Any of them may be nil, in
// which case the matching strategy fails with ErrLaunchFailed.
type Launchers struct {
	Direct      DirectLauncher
	AsUser      DirectLauncher
	URI         URILauncher
	DeferredURI DeferredURILauncher
	Package     PackageLauncher
}
