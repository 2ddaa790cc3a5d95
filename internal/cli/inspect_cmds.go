package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/lineage/internal/api"
	"github.com/Paintersrp/lineage/internal/cliutil"
	"github.com/Paintersrp/lineage/internal/proctree"
)

func newTreeCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree PID",
		Short: "Print the process tree rooted at PID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := ctx.discover(cmd, args[0])
			if err != nil {
				return err
			}
			snap := root.Snapshot()
			if ctx.json() {
				return ctx.writeJSON(cmd.OutOrStdout(), snap)
			}
			return cliutil.WriteTree(cmd.OutOrStdout(), snap)
		},
	}
	return cmd
}

func newKillCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill PID",
		Short: "Kill the process tree rooted at PID",
		Long: "Kill the process tree rooted at PID. Processes whose name starts with a\n" +
			"kill-whitelist prefix are skipped; descendants are only killed in deep-kill mode.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := ctx.discover(cmd, args[0])
			if err != nil {
				return err
			}
			report := root.Kill(cmd.Context())
			if ctx.json() {
				return ctx.writeJSON(cmd.OutOrStdout(), api.NewKillResult("", report))
			}
			out := cmd.OutOrStdout()
			for _, result := range report.Results {
				fmt.Fprintf(out, "%-10s %d %s", result.Outcome, result.PID, result.Name)
				if result.Detail != "" {
					fmt.Fprintf(out, ": %s", cliutil.RedactSecrets(result.Detail))
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "%d terminated, %d attempted, %d skipped\n",
				report.Count(proctree.KillTerminated),
				report.Count(proctree.KillAttempted),
				report.Count(proctree.KillSkipped))
			return nil
		},
	}
	return cmd
}

// discover builds the live tree rooted at the pid in arg without
// registering it anywhere.
func (c *context) discover(cmd *cobra.Command, arg string) (*proctree.Node, error) {
	pid, err := parsePID(arg)
	if err != nil {
		return nil, err
	}
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	root := proctree.Discover(cmd.Context(), pid, c.newEnv(cfg))
	if root.State() != proctree.StateAlive {
		return nil, fmt.Errorf("process %d is not running", pid)
	}
	return root, nil
}
