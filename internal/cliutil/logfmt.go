package cliutil

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/Paintersrp/lineage/internal/monitor"
)

// LogRecord represents a structured monitor event ready for JSON encoding.
type LogRecord struct {
	Timestamp time.Time `json:"ts"`
	Tree      string    `json:"tree,omitempty"`
	PID       int       `json:"pid,omitempty"`
	Name      string    `json:"name,omitempty"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"msg"`
	Source    string    `json:"source"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NewLogRecord converts a monitor event into a structured log record with
// secrets masked.
func NewLogRecord(event monitor.Event) LogRecord {
	level := event.Level
	if level == "" {
		if inferred := inferLogLevel(event.Message); inferred != "" {
			level = inferred
		} else {
			level = "info"
		}
	}
	source := event.Source
	if source == "" {
		source = monitor.SourceSystem
	}
	record := LogRecord{
		Timestamp: event.Timestamp,
		Tree:      event.Tree,
		PID:       event.PID,
		Name:      event.Name,
		Type:      string(event.Type),
		Level:     level,
		Message:   RedactSecrets(event.Message),
		Source:    source,
		Reason:    event.Reason,
	}
	if event.Err != nil {
		record.Error = RedactSecrets(event.Err.Error())
	}
	return record
}

var levelTokenPattern = regexp.MustCompile(`(?i)\b(error|warn|info)\b`)

func inferLogLevel(message string) string {
	matches := levelTokenPattern.FindStringSubmatch(message)
	if len(matches) < 2 {
		return ""
	}
	switch strings.ToLower(matches[1]) {
	case "error":
		return "error"
	case "warn":
		return "warn"
	case "info":
		return "info"
	default:
		return ""
	}
}

// EncodeLogEvent encodes an event to JSON, reporting errors to stderr if needed.
func EncodeLogEvent(enc *json.Encoder, stderr io.Writer, event monitor.Event) {
	if enc == nil {
		return
	}
	record := NewLogRecord(event)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := enc.Encode(&record); err != nil {
		fmt.Fprintf(stderr, "error: encode log: %v\n", err)
	}
}

// FormatLogEvent renders an event as a single human readable line.
func FormatLogEvent(event monitor.Event) string {
	record := NewLogRecord(event)
	ts := record.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s", ts.Format("15:04:05.000"), strings.ToUpper(record.Level))
	if record.Tree != "" {
		fmt.Fprintf(&b, " [%s]", shortID(record.Tree))
	}
	if record.PID > 0 {
		name := record.Name
		if name == "" {
			name = "?"
		}
		fmt.Fprintf(&b, " %s(%d)", name, record.PID)
	}
	if record.Type != "" && record.Type != string(monitor.EventTypeLog) {
		fmt.Fprintf(&b, " %s:", record.Type)
	}
	if record.Message != "" {
		b.WriteString(" ")
		b.WriteString(record.Message)
	}
	if record.Error != "" {
		fmt.Fprintf(&b, " error=%q", record.Error)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
