package cli

import (
	stdcontext "context"
	"errors"
	"sync"

	"github.com/Paintersrp/lineage/internal/config"
	"github.com/Paintersrp/lineage/internal/launch"
	"github.com/Paintersrp/lineage/internal/logmux"
	"github.com/Paintersrp/lineage/internal/metrics"
	"github.com/Paintersrp/lineage/internal/monitor"
	"github.com/Paintersrp/lineage/internal/proctree"
	"github.com/Paintersrp/lineage/internal/registry"
)

type supervisorConfig struct {
	Config       *config.Config
	Env          *proctree.Env
	NewLaunchers func(cfg *config.Config, env *proctree.Env, output chan<- monitor.Event) launch.Launchers
	Stream       *eventStream
}

// supervisor owns the registry, coordinator and watcher of one CLI
// invocation and pumps their events through a logmux into the stream.
type supervisor struct {
	cfg     *config.Config
	reg     *registry.Registry
	env     *proctree.Env
	coord   *launch.Coordinator
	watcher *monitor.Watcher
	events  chan monitor.Event
	stream  *eventStream

	cancel    stdcontext.CancelFunc
	stop      chan struct{}
	watchDone chan struct{}
	pumpDone  chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

func newSupervisor(cfg supervisorConfig) (*supervisor, error) {
	if cfg.Config == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Env == nil {
		return nil, errors.New("process environment is required")
	}
	stream := cfg.Stream
	if stream == nil {
		stream = newEventStream(defaultEventBuffer)
	}

	events := make(chan monitor.Event, defaultEventBuffer)
	reg := registry.New()

	var launchers launch.Launchers
	if cfg.NewLaunchers != nil {
		launchers = cfg.NewLaunchers(cfg.Config, cfg.Env, events)
	}
	coord, err := launch.New(launch.Config{
		Registry:  reg,
		Env:       cfg.Env,
		Launchers: launchers,
		Events:    events,
	})
	if err != nil {
		return nil, err
	}

	watcher := monitor.NewWatcher(monitor.WatcherConfig{
		Registry:    reg,
		Events:      events,
		Interval:    cfg.Config.PollInterval.Duration,
		ForgetAfter: cfg.Config.ForgetAfter.Duration,
	})

	metrics.EmitBuildInfo()

	return &supervisor{
		cfg:       cfg.Config,
		reg:       reg,
		env:       cfg.Env,
		coord:     coord,
		watcher:   watcher,
		events:    events,
		stream:    stream,
		stop:      make(chan struct{}),
		watchDone: make(chan struct{}),
		pumpDone:  make(chan struct{}),
	}, nil
}

// start launches the watcher and the event pump. It is a no-op after the
// first call.
func (s *supervisor) start(ctx stdcontext.Context) {
	s.startOnce.Do(func() {
		if ctx == nil {
			ctx = stdcontext.Background()
		}
		runCtx, cancel := stdcontext.WithCancel(ctx)
		s.cancel = cancel

		go func() {
			defer close(s.watchDone)
			_ = s.watcher.Run(runCtx)
		}()
		go s.pump()
	})
}

func (s *supervisor) pump() {
	defer close(s.pumpDone)

	mux := logmux.New(defaultEventBuffer)
	in := make(chan monitor.Event, defaultEventBuffer)
	mux.Add(in)

	published := make(chan struct{})
	go func() {
		defer close(published)
		for evt := range mux.Output() {
			s.stream.Publish(evt)
		}
	}()

	defer func() {
		close(in)
		mux.Close()
		<-published
		s.stream.Close()
	}()

	for {
		select {
		case evt := <-s.events:
			in <- evt
		case <-s.stop:
			for {
				select {
				case evt := <-s.events:
					in <- evt
				default:
					return
				}
			}
		}
	}
}

// emit publishes evt from outside the coordinator and watcher.
func (s *supervisor) emit(evt monitor.Event) {
	monitor.Send(s.events, evt)
}

// close stops the watcher, waits for deferred launches, then flushes and
// closes the event stream. Tracked processes keep running.
func (s *supervisor) close() {
	s.closeOnce.Do(func() {
		started := false
		s.startOnce.Do(func() {})
		if s.cancel != nil {
			started = true
			s.cancel()
			<-s.watchDone
		}
		s.coord.Shutdown()
		s.watcher.Close()
		if !started {
			s.stream.Close()
			return
		}
		close(s.stop)
		<-s.pumpDone
	})
}
