package monitor

import (
	"time"
)

// EventType captures lifecycle notifications emitted by the launch
// coordinator and the watcher.
type EventType string

const (
	EventTypeLaunched     EventType = "launched"
	EventTypeDuplicate    EventType = "duplicate"
	EventTypeLaunchFailed EventType = "launch_failed"
	EventTypeResolved     EventType = "resolved"
	EventTypeAdded        EventType = "added"
	EventTypeExited       EventType = "exited"
	EventTypeTreeExited   EventType = "tree_exited"
	EventTypeKilled       EventType = "killed"
	EventTypeForgotten    EventType = "forgotten"
	EventTypeLog          EventType = "log"
)

// Event represents a single lifecycle or log notification about a tracked
// tree.
type Event struct {
	Timestamp time.Time
	Tree      string
	PID       int
	Name      string
	Path      string
	Args      []string
	Type      EventType
	Message   string
	Level     string
	Source    string
	Err       error
	Reason    string
}

const (
	SourceSystem  = "system"
	SourceProcess = "process"
)

const (
	ReasonDirect      = "direct"
	ReasonAsUser      = "as_user"
	ReasonURI         = "uri"
	ReasonURIDeferred = "uri_deferred"
	ReasonPackage     = "package"
	ReasonAdopt       = "adopt"
	ReasonPoll        = "poll"
	ReasonKill        = "kill"
	ReasonRetention   = "retention"
	ReasonShutdown    = "shutdown"
)

// Send delivers evt on events, filling in the timestamp, source and level
// when they are missing. A nil channel discards the event.
func Send(events chan<- Event, evt Event) {
	if events == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Source == "" {
		evt.Source = SourceSystem
	}
	if evt.Level == "" {
		evt.Level = defaultLevel(evt)
	}
	events <- evt
}

func defaultLevel(evt Event) string {
	switch {
	case evt.Err != nil, evt.Type == EventTypeLaunchFailed:
		return "error"
	case evt.Type == EventTypeKilled:
		return "warn"
	default:
		return "info"
	}
}
