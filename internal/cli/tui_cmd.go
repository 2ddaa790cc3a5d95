package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/lineage/internal/tui"
)

func newTuiCmd(ctx *context) *cobra.Command {
	var (
		attach  []int
		apiAddr string
	)
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Browse and control tracked process trees interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !supportsInteractiveOutput(cmd) {
				return fmt.Errorf("tui requires an interactive terminal")
			}

			sup, err := ctx.startSupervisor(cmd)
			if err != nil {
				return err
			}
			defer ctx.stopSupervisor(sup)

			control := NewControlAPI(sup)
			for _, pid := range attach {
				if _, err := sup.coord.GetProcessFromID(cmd.Context(), pid); err != nil {
					return err
				}
			}
			if apiAddr != "" {
				stopAPI, err := startAPIServer(cmd.Context(), cmd.ErrOrStderr(), apiAddr, control)
				if err != nil {
					return err
				}
				defer func() { _ = stopAPI() }()
			}

			ui := tui.New(control, tui.WithPollInterval(sup.cfg.PollInterval.Duration))
			ctx.forwardEvents(ui)
			return ui.Run(cmd.Context())
		},
	}
	cmd.Flags().IntSliceVar(&attach, "attach", nil, "Process id to track on startup (repeatable)")
	cmd.Flags().StringVar(&apiAddr, "api", "", "Also serve the HTTP control API on this address")
	return cmd
}

// forwardEvents feeds the log stream into the UI until either side stops.
func (c *context) forwardEvents(ui *tui.UI) {
	events, release, ok := c.subscribeLogStream(defaultEventBuffer)
	if !ok {
		ui.CloseEvents()
		return
	}
	sink := ui.EventSink()
	go func() {
		defer ui.CloseEvents()
		defer release()
		for {
			select {
			case evt, ok := <-events:
				if !ok {
					return
				}
				select {
				case sink <- evt:
				case <-ui.Done():
					return
				}
			case <-ui.Done():
				return
			}
		}
	}()
}
