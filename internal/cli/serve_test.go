package cli

import (
	stdcontext "context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	apihttp "github.com/Paintersrp/lineage/internal/api/http"
)

func TestServeCommandReportsAPIServerError(t *testing.T) {
	startErr := errors.New("serve failure")
	origNewAPIServer := newAPIServer
	t.Cleanup(func() {
		newAPIServer = origNewAPIServer
	})
	newAPIServer = func(cfg apihttp.Config) (*apihttp.Server, error) {
		cfg.Listener = &failingListener{addr: staticAddr("127.0.0.1:0"), err: startErr}
		return apihttp.NewServer(cfg)
	}

	_, stderr, run := newTestRoot(t, newProcTable())
	err := run("serve", "--addr", "127.0.0.1:0")
	if !errors.Is(err, startErr) {
		t.Fatalf("expected serve error %v, got %v (stderr: %s)", startErr, err, stderr.String())
	}
	if strings.Contains(stderr.String(), "Control API listening") {
		t.Fatalf("expected no API startup message, got stderr: %s", stderr.String())
	}
}

func TestStartAPIServerRequiresController(t *testing.T) {
	t.Parallel()

	if _, err := startAPIServer(stdcontext.Background(), io.Discard, "127.0.0.1:0", nil); err == nil {
		t.Fatalf("expected error without control API")
	}
}

func TestStartAPIServerStops(t *testing.T) {
	t.Parallel()

	control := NewControlAPI(newTestSupervisor(t, newProcTable(), nil))
	var out syncBuffer
	stop, err := startAPIServer(stdcontext.Background(), &out, "127.0.0.1:0", control)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !strings.Contains(out.String(), "Control API listening on 127.0.0.1:0") {
		t.Fatalf("expected startup message, got %q", out.String())
	}
	if err := stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestControlAPIServedOverHTTP(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listen: %v", err)
	}
	table := newProcTable()
	table.spawn(960, 1, "daemon")
	control := NewControlAPI(newTestSupervisor(t, table, nil))

	server, err := apihttp.NewServer(apihttp.Config{Controller: control, Listener: listener})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	runCtx, cancel := stdcontext.WithCancel(stdcontext.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- server.Run(runCtx) }()

	body := strings.NewReader(`{"kind":"attach","pid":960}`)
	resp, err := http.Post("http://"+listener.Addr().String()+"/api/v1/launch", "application/json", body)
	if err != nil {
		t.Fatalf("post launch: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected launch status %d", resp.StatusCode)
	}

	list, err := control.Trees(stdcontext.Background())
	if err != nil {
		t.Fatalf("trees: %v", err)
	}
	if len(list.Trees) != 1 || list.Trees[0].PID != 960 {
		t.Fatalf("unexpected trees: %+v", list.Trees)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}
}

type failingListener struct {
	addr net.Addr
	err  error
}

func (l *failingListener) Accept() (net.Conn, error) {
	return nil, l.err
}

func (l *failingListener) Close() error {
	return nil
}

func (l *failingListener) Addr() net.Addr {
	return l.addr
}

type staticAddr string

func (a staticAddr) Network() string { return "tcp" }

func (a staticAddr) String() string { return string(a) }
