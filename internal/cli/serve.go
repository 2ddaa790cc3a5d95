package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	apihttp "github.com/Paintersrp/lineage/internal/api/http"
)

var newAPIServer = apihttp.NewServer

func newServeCmd(ctx *context) *cobra.Command {
	var apiAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor with the HTTP control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := ctx.startSupervisor(cmd)
			if err != nil {
				return err
			}
			printed, release := ctx.printEvents(cmd.OutOrStdout(), cmd.ErrOrStderr())
			defer func() {
				ctx.stopSupervisor(sup)
				<-printed
				release()
			}()

			addr := sup.cfg.API.Addr
			if cmd.Flags().Changed("addr") {
				addr = apiAddr
			}
			stopAPI, err := startAPIServer(cmd.Context(), cmd.ErrOrStderr(), addr, NewControlAPI(sup))
			if err != nil {
				return err
			}

			<-cmd.Context().Done()
			return stopAPI()
		},
	}
	cmd.Flags().StringVar(&apiAddr, "addr", "", "address for the HTTP control API (overrides api.addr)")
	return cmd
}

// startAPIServer runs the control API until runCtx is cancelled or the
// returned stop function is called. Startup failures surface immediately.
func startAPIServer(runCtx stdcontext.Context, out io.Writer, addr string, control *ControlAPI) (func() error, error) {
	if control == nil {
		return nil, errors.New("control API unavailable")
	}
	server, err := newAPIServer(apihttp.Config{Addr: addr, Controller: control})
	if err != nil {
		return nil, err
	}
	serverCtx, cancel := stdcontext.WithCancel(runCtx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(serverCtx)
	}()
	readyTimer := time.NewTimer(200 * time.Millisecond)
	defer readyTimer.Stop()
	select {
	case err := <-errCh:
		cancel()
		return nil, err
	case <-readyTimer.C:
	case <-runCtx.Done():
		cancel()
		err := <-errCh
		if err != nil && !errors.Is(err, stdcontext.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			return nil, err
		}
		return nil, runCtx.Err()
	}
	fmt.Fprintf(out, "Control API listening on %s\n", server.Addr())
	return func() error {
		cancel()
		err := <-errCh
		if err != nil && !errors.Is(err, stdcontext.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, nil
}
