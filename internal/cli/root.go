package cli

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Paintersrp/lineage/internal/cliutil"
	"github.com/Paintersrp/lineage/internal/config"
	"github.com/Paintersrp/lineage/internal/launch"
	"github.com/Paintersrp/lineage/internal/monitor"
	"github.com/Paintersrp/lineage/internal/osproc"
	"github.com/Paintersrp/lineage/internal/proctree"
)

const defaultEventBuffer = 256

// NewRootCmd returns the lineage command tree.
func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	var (
		configFile    string
		jsonOutput    bool
		deepKill      bool
		filters       []string
		killWhitelist []string
	)

	root := &cobra.Command{
		Use:   "lineage",
		Short: "Launch, track and terminate process trees",
	}

	root.PersistentFlags().
		StringVarP(&configFile, "config", "c", config.DefaultFile, "Path to configuration file")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Emit events and reports as JSON")
	root.PersistentFlags().BoolVar(&deepKill, "deep-kill", false, "Terminate descendants when killing a tree (overrides config)")
	root.PersistentFlags().StringSliceVar(&filters, "filter", nil, "Process name to track without reporting (repeatable, added to config)")
	root.PersistentFlags().StringSliceVar(&killWhitelist, "kill-whitelist", nil, "Process name prefix never killed (repeatable, added to config)")

	ctx := &context{
		configFile:    &configFile,
		jsonOutput:    &jsonOutput,
		deepKill:      &deepKill,
		filters:       &filters,
		killWhitelist: &killWhitelist,
		newEnv:        defaultEnv,
		newLaunchers:  defaultLaunchers,
	}
	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newOpenCmd(ctx))
	root.AddCommand(newAppCmd(ctx))
	root.AddCommand(newAttachCmd(ctx))
	root.AddCommand(newTreeCmd(ctx))
	root.AddCommand(newKillCmd(ctx))
	root.AddCommand(newServeCmd(ctx))
	root.AddCommand(newTuiCmd(ctx))
	root.AddCommand(newConfigCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type context struct {
	configFile    *string
	jsonOutput    *bool
	deepKill      *bool
	filters       *[]string
	killWhitelist *[]string

	// newEnv and newLaunchers build the OS collaborators; tests replace them.
	newEnv       func(cfg *config.Config) *proctree.Env
	newLaunchers func(cfg *config.Config, env *proctree.Env, output chan<- monitor.Event) launch.Launchers

	mu        sync.RWMutex
	logStream *eventStream
}

func defaultEnv(cfg *config.Config) *proctree.Env {
	return osproc.Host{}.Env(cfg.Filters, cfg.KillWhitelist, cfg.DeepKill)
}

func defaultLaunchers(cfg *config.Config, _ *proctree.Env, output chan<- monitor.Event) launch.Launchers {
	host := osproc.Host{}
	spawner := osproc.Spawner{Output: output}
	opener := osproc.Opener{
		Command:  cfg.URIOpener,
		Host:     host,
		Interval: cfg.PollInterval.Duration,
		Timeout:  cfg.DiscoveryTimeout.Duration,
	}
	return launch.Launchers{
		Direct:      spawner,
		AsUser:      spawner,
		URI:         opener,
		DeferredURI: opener,
		Package: osproc.Packages{
			Host:     host,
			Interval: cfg.PollInterval.Duration,
			Timeout:  cfg.DiscoveryTimeout.Duration,
		},
	}
}

// loadConfig reads the configuration file and layers command line flags on
// top of it.
func (c *context) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	explicit := false
	if flag := cmd.Flags().Lookup("config"); flag != nil {
		explicit = flag.Changed
	}
	cfg, err := config.Load(*c.configFile, explicit)
	if err != nil {
		return nil, err
	}
	if flag := cmd.Flags().Lookup("deep-kill"); flag != nil && flag.Changed {
		cfg.DeepKill = *c.deepKill
	}
	if c.filters != nil {
		cfg.Filters = append(cfg.Filters, *c.filters...)
	}
	if c.killWhitelist != nil {
		cfg.KillWhitelist = append(cfg.KillWhitelist, *c.killWhitelist...)
	}
	return cfg, nil
}

func (c *context) json() bool {
	return c.jsonOutput != nil && *c.jsonOutput
}

// startSupervisor loads configuration and starts a supervisor whose events
// are published on the shared log stream.
func (c *context) startSupervisor(cmd *cobra.Command) (*supervisor, error) {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	stream := newEventStream(defaultEventBuffer)
	sup, err := newSupervisor(supervisorConfig{
		Config:       cfg,
		Env:          c.newEnv(cfg),
		NewLaunchers: c.newLaunchers,
		Stream:       stream,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.logStream = stream
	c.mu.Unlock()

	sup.start(cmd.Context())
	return sup, nil
}

func (c *context) stopSupervisor(sup *supervisor) {
	sup.close()
	c.mu.Lock()
	if c.logStream == sup.stream {
		c.logStream = nil
	}
	c.mu.Unlock()
}

func (c *context) subscribeLogStream(buffer int) (<-chan monitor.Event, func(), bool) {
	c.mu.RLock()
	stream := c.logStream
	c.mu.RUnlock()
	if stream == nil {
		return nil, nil, false
	}
	return stream.Subscribe(buffer)
}

// printEvents writes every event from the log stream to out until the
// stream closes. The returned channel is closed once printing stops.
func (c *context) printEvents(out, errOut io.Writer) (<-chan struct{}, func()) {
	done := make(chan struct{})
	events, release, ok := c.subscribeLogStream(defaultEventBuffer)
	if !ok {
		close(done)
		return done, func() {}
	}

	var enc *json.Encoder
	if c.json() {
		enc = json.NewEncoder(out)
	}
	go func() {
		defer close(done)
		for evt := range events {
			if enc != nil {
				cliutil.EncodeLogEvent(enc, errOut, evt)
				continue
			}
			fmt.Fprintln(out, cliutil.FormatLogEvent(evt))
		}
	}()
	return done, release
}

func (c *context) writeJSON(out io.Writer, payload any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func supportsInteractiveOutput(cmd *cobra.Command) bool {
	file, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

type eventStream struct {
	mu       sync.Mutex
	closed   bool
	subs     map[chan monitor.Event]struct{}
	backlog  []monitor.Event
	capacity int
}

func newEventStream(capacity int) *eventStream {
	if capacity <= 0 {
		capacity = 1
	}
	return &eventStream{
		subs:     make(map[chan monitor.Event]struct{}),
		capacity: capacity,
	}
}

func (s *eventStream) Subscribe(buffer int) (<-chan monitor.Event, func(), bool) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan monitor.Event, buffer)

	s.mu.Lock()
	if s.closed {
		close(ch)
		s.mu.Unlock()
		return ch, func() {}, false
	}
	backlog := append([]monitor.Event(nil), s.backlog...)
	if s.subs == nil {
		s.subs = make(map[chan monitor.Event]struct{})
	}
	s.subs[ch] = struct{}{}
	// Backlog is queued under the lock so it precedes later publishes.
	for _, evt := range backlog {
		select {
		case ch <- evt:
		default:
		}
	}
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		if s.subs != nil {
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		}
		s.mu.Unlock()
	}

	return ch, release, true
}

func (s *eventStream) Publish(evt monitor.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.backlog = append(s.backlog, evt)
	if len(s.backlog) > s.capacity {
		s.backlog = s.backlog[len(s.backlog)-s.capacity:]
	}
	for ch := range s.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (s *eventStream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for ch := range s.subs {
		close(ch)
	}
	s.subs = nil
	s.backlog = nil
	s.mu.Unlock()
}
