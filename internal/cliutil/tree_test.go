package cliutil

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/Paintersrp/lineage/internal/proctree"
)

func TestWriteTree(t *testing.T) {
	snap := proctree.Snapshot{
		PID:   1,
		Name:  "launcher",
		State: proctree.StateAlive,
		Children: []proctree.Snapshot{
			{
				PID:   2,
				Name:  "game",
				State: proctree.StateAlive,
				Args:  []string{"--token", "hunter2", "-windowed"},
				Children: []proctree.Snapshot{
					{PID: 3, Name: "crashpad_handler", State: proctree.StateAlive, Filtered: true},
				},
			},
			{PID: 4, Name: "updater", State: proctree.StateDead},
		},
	}

	var buf bytes.Buffer
	if err := WriteTree(&buf, snap); err != nil {
		t.Fatalf("WriteTree returned error: %v", err)
	}

	want := strings.Join([]string{
		"1 launcher (alive)",
		"├── 2 game (alive) --token [redacted] -windowed",
		"│   └── 3 crashpad_handler (alive, filtered)",
		"└── 4 updater (dead)",
		"",
	}, "\n")
	if got := buf.String(); got != want {
		t.Fatalf("unexpected tree:\n%s\nwant:\n%s", got, want)
	}
}

func TestWriteTreePlaceholder(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTree(&buf, proctree.Snapshot{Path: "/opt/game/game", Placeholder: true}); err != nil {
		t.Fatalf("WriteTree returned error: %v", err)
	}
	if got, want := buf.String(), "pending /opt/game/game\n"; got != want {
		t.Fatalf("unexpected placeholder rendering: got %q want %q", got, want)
	}
}

func TestAge(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := Age(time.Time{}, now); got != "-" {
		t.Fatalf("expected dash for zero time, got %q", got)
	}
	if got, want := Age(now.Add(-3*time.Minute), now), "3 minutes"; got != want {
		t.Fatalf("unexpected age: got %q want %q", got, want)
	}
}
