package api

import (
	stdcontext "context"
	"errors"
	"time"

	"github.com/Paintersrp/lineage/internal/proctree"
	"github.com/Paintersrp/lineage/internal/registry"
)

var (
	ErrUnknownTree      = errors.New("unknown tree")
	ErrUnsupportedKind  = errors.New("unsupported launch kind")
	ErrTreeNotResolved  = errors.New("tree launch not resolved")
	ErrControllerClosed = errors.New("controller closed")
)

// Launch kinds accepted by LaunchRequest.
const (
	KindDirect      = "direct"
	KindAsUser      = "as_user"
	KindURI         = "uri"
	KindURIDeferred = "uri_deferred"
	KindPackage     = "package"
	KindAttach      = "attach"
)

// TreeReport describes one registered process tree.
type TreeReport struct {
	ID        string            `json:"id"`
	PID       int               `json:"pid"`
	Name      string            `json:"name"`
	Path      string            `json:"path"`
	State     proctree.State    `json:"state"`
	Active    bool              `json:"active"`
	Pending   bool              `json:"pending"`
	Processes int               `json:"processes"`
	Alive     int               `json:"alive"`
	Created   time.Time         `json:"created"`
	Tree      proctree.Snapshot `json:"tree"`
}

// ListReport aggregates every registered tree.
type ListReport struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Trees       []TreeReport `json:"trees"`
}

// KillResult captures the outcome of a kill request.
type KillResult struct {
	Tree        string                `json:"tree"`
	Terminated  int                   `json:"terminated"`
	Attempted   int                   `json:"attempted"`
	Skipped     int                   `json:"skipped"`
	Results     []proctree.KillResult `json:"results"`
	CompletedAt time.Time             `json:"completed_at"`
}

// LaunchRequest is the body accepted by the launch endpoint. Which fields
// are read depends on Kind.
type LaunchRequest struct {
	Kind    string   `json:"kind"`
	File    string   `json:"file,omitempty"`
	Args    []string `json:"args,omitempty"`
	WorkDir string   `json:"workdir,omitempty"`
	URI     string   `json:"uri,omitempty"`
	Target  string   `json:"target,omitempty"`
	Family  string   `json:"family,omitempty"`
	AppID   string   `json:"app_id,omitempty"`
	PID     int      `json:"pid,omitempty"`
}

// LaunchResult captures the outcome of a launch request.
type LaunchResult struct {
	ID       string     `json:"id"`
	Existing bool       `json:"existing"`
	Tree     TreeReport `json:"tree"`
}

// Controller exposes supervisor operations required by control servers.
type Controller interface {
	Trees(stdcontext.Context) (*ListReport, error)
	Tree(stdcontext.Context, string) (*TreeReport, error)
	Refresh(stdcontext.Context, string) (*TreeReport, error)
	Kill(stdcontext.Context, string) (*KillResult, error)
	Launch(stdcontext.Context, LaunchRequest) (*LaunchResult, error)
}

// NewTreeReport summarises a registry entry.
func NewTreeReport(entry registry.Entry) TreeReport {
	root := entry.Root
	report := TreeReport{
		ID:      entry.ID,
		PID:     root.ID(),
		Name:    root.Name(),
		Path:    root.Path(),
		State:   root.State(),
		Active:  root.IsTreeActive(),
		Pending: root.IsPlaceholder(),
		Created: entry.Created,
		Tree:    root.Snapshot(),
	}
	_ = root.Walk(stdcontext.Background(), func(n *proctree.Node, _ int) error {
		report.Processes++
		if n.State() == proctree.StateAlive {
			report.Alive++
		}
		return nil
	})
	return report
}

// NewKillResult summarises a kill report.
func NewKillResult(tree string, report proctree.KillReport) *KillResult {
	return &KillResult{
		Tree:        tree,
		Terminated:  report.Count(proctree.KillTerminated),
		Attempted:   report.Count(proctree.KillAttempted),
		Skipped:     report.Count(proctree.KillSkipped),
		Results:     report.Results,
		CompletedAt: time.Now(),
	}
}
