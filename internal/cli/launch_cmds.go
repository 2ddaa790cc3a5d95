package cli

import (
	stdcontext "context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/lineage/internal/api"
	"github.com/Paintersrp/lineage/internal/launch"
)

const killTimeout = 10 * time.Second

type followOptions struct {
	detach     bool
	killOnExit bool
}

func (o *followOptions) bind(cmd *cobra.Command, killByDefault bool) {
	cmd.Flags().BoolVarP(&o.detach, "detach", "d", false, "Return once the tree is registered instead of following it")
	cmd.Flags().BoolVar(&o.killOnExit, "kill-on-exit", killByDefault, "Kill the tree when lineage is interrupted")
}

func newRunCmd(ctx *context) *cobra.Command {
	var (
		opts    followOptions
		asUser  bool
		workDir string
	)
	cmd := &cobra.Command{
		Use:   "run FILE [ARGS...]",
		Short: "Start an executable and follow its process tree",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runLaunch(cmd, opts, func(runCtx stdcontext.Context, sup *supervisor) (*launch.Launch, error) {
				return sup.coord.Start(runCtx, launch.StartRequest{
					File:    args[0],
					Args:    args[1:],
					WorkDir: workDir,
					AsUser:  asUser,
				})
			})
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().BoolVar(&asUser, "as-user", false, "Drop elevated privileges to the invoking user before starting")
	cmd.Flags().StringVarP(&workDir, "workdir", "w", "", "Working directory for the started program")
	opts.bind(cmd, true)
	return cmd
}

func newOpenCmd(ctx *context) *cobra.Command {
	var (
		opts     followOptions
		target   string
		deferred bool
	)
	cmd := &cobra.Command{
		Use:   "open URI [ARGS...]",
		Short: "Activate a URI and follow the process it spawns",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info := launch.URIStartInfo{URI: args[0], Target: target, Args: args[1:]}
			resolved := make(chan bool, 1)
			err := ctx.runLaunch(cmd, opts, func(runCtx stdcontext.Context, sup *supervisor) (*launch.Launch, error) {
				if deferred {
					return sup.coord.StartURIDeferred(runCtx, info, func(ok bool) { resolved <- ok })
				}
				return sup.coord.StartURI(runCtx, info)
			})
			if err != nil {
				return err
			}
			// The supervisor has shut down, so a settled discovery has
			// already reported.
			select {
			case ok := <-resolved:
				if !ok {
					return fmt.Errorf("%w: %s did not appear after opening %s", launch.ErrLaunchFailed, target, info.URI)
				}
			default:
			}
			return nil
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringVarP(&target, "target", "t", "", "Executable expected to appear once the URI is handled")
	cmd.Flags().BoolVar(&deferred, "deferred", false, "Register a pending tree immediately and resolve it in the background")
	_ = cmd.MarkFlagRequired("target")
	opts.bind(cmd, true)
	return cmd
}

func newAppCmd(ctx *context) *cobra.Command {
	var (
		opts   followOptions
		target string
	)
	cmd := &cobra.Command{
		Use:   "app FAMILY APP_ID [ARGS...]",
		Short: "Activate a packaged application and follow its process tree",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runLaunch(cmd, opts, func(runCtx stdcontext.Context, sup *supervisor) (*launch.Launch, error) {
				return sup.coord.StartPackagedApp(runCtx, launch.PackageRequest{
					Family: args[0],
					AppID:  args[1],
					Args:   args[2:],
					Target: target,
				})
			})
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringVarP(&target, "target", "t", "", "Executable used for duplicate detection instead of the package identity")
	opts.bind(cmd, true)
	return cmd
}

func newAttachCmd(ctx *context) *cobra.Command {
	var opts followOptions
	cmd := &cobra.Command{
		Use:   "attach PID",
		Short: "Track an already running process and its descendants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			return ctx.runLaunch(cmd, opts, func(runCtx stdcontext.Context, sup *supervisor) (*launch.Launch, error) {
				return sup.coord.GetProcessFromID(runCtx, pid)
			})
		},
	}
	opts.bind(cmd, false)
	return cmd
}

// runLaunch starts a supervisor, performs start and follows the resulting
// tree until it exits or the command is interrupted.
func (c *context) runLaunch(cmd *cobra.Command, opts followOptions, start func(stdcontext.Context, *supervisor) (*launch.Launch, error)) error {
	sup, err := c.startSupervisor(cmd)
	if err != nil {
		return err
	}
	printed, release := c.printEvents(cmd.OutOrStdout(), cmd.ErrOrStderr())
	defer func() {
		c.stopSupervisor(sup)
		<-printed
		release()
	}()

	l, err := start(cmd.Context(), sup)
	if err != nil {
		return err
	}
	if opts.detach {
		return c.reportLaunch(cmd, sup, l)
	}
	return c.follow(cmd, sup, l, opts.killOnExit)
}

func (c *context) reportLaunch(cmd *cobra.Command, sup *supervisor, l *launch.Launch) error {
	if !c.json() {
		return nil
	}
	entry, ok := sup.reg.GetEntry(l.ID)
	if !ok {
		return fmt.Errorf("%w: %s", api.ErrUnknownTree, l.ID)
	}
	return c.writeJSON(cmd.OutOrStdout(), api.LaunchResult{
		ID:       l.ID,
		Existing: l.Existing,
		Tree:     api.NewTreeReport(entry),
	})
}

// follow blocks until the tree exits or the command context is cancelled,
// killing the tree in the latter case when killOnExit is set.
func (c *context) follow(cmd *cobra.Command, sup *supervisor, l *launch.Launch, killOnExit bool) error {
	select {
	case <-sup.watcher.Done(l.ID):
		return nil
	case <-cmd.Context().Done():
	}
	if !killOnExit {
		return nil
	}
	root, ok := sup.coord.Lookup(l.ID)
	if !ok || root.IsPlaceholder() {
		return nil
	}
	killCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), killTimeout)
	defer cancel()
	killTree(killCtx, sup, l.ID, root)
	return nil
}

func parsePID(value string) (int, error) {
	pid, err := strconv.Atoi(value)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: invalid pid %q", launch.ErrInvalidArgument, value)
	}
	return pid, nil
}
