package osproc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Paintersrp/lineage/internal/launch"
	"github.com/Paintersrp/lineage/internal/monitor"
)

// Spawner starts executables directly. Each child leads its own process
// group so a deep kill can signal the whole group.
type Spawner struct {
	// Output receives the child's stdout and stderr line by line. A nil
	// channel detaches the child from our stdio entirely.
	Output chan<- monitor.Event
}

var _ launch.DirectLauncher = Spawner{}

// Launch starts file and returns its pid. The child is reaped in the
// background and outlives ctx.
func (s Spawner) Launch(ctx context.Context, file string, args []string, workDir string, asUser bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cmd := exec.Command(file, args...)
	cmd.Dir = workDir
	cmd.Env = os.Environ()
	if err := configureCmdSysProcAttr(cmd, asUser); err != nil {
		return 0, err
	}

	var stdout, stderr io.ReadCloser
	if s.Output != nil {
		var err error
		if stdout, err = cmd.StdoutPipe(); err != nil {
			return 0, fmt.Errorf("stdout pipe for %s: %w", file, err)
		}
		if stderr, err = cmd.StderrPipe(); err != nil {
			return 0, fmt.Errorf("stderr pipe for %s: %w", file, err)
		}
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", file, err)
	}
	pid := cmd.Process.Pid
	name := filepath.Base(file)

	var wg sync.WaitGroup
	if s.Output != nil {
		wg.Add(2)
		go streamLines(stdout, pid, name, "info", s.Output, &wg)
		go streamLines(stderr, pid, name, "warn", s.Output, &wg)
	}
	go func() {
		wg.Wait()
		_ = cmd.Wait()
	}()
	return pid, nil
}

func streamLines(r io.Reader, pid int, name, level string, out chan<- monitor.Event, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		monitor.Send(out, monitor.Event{
			PID:     pid,
			Name:    name,
			Type:    monitor.EventTypeLog,
			Message: strings.TrimRight(scanner.Text(), "\r\n"),
			Level:   level,
			Source:  monitor.SourceProcess,
		})
	}
}

// detach starts cmd and reaps it in the background.
func detach(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
