package cliutil

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/Paintersrp/lineage/internal/proctree"
)

// WriteTree renders snap as an indented tree, one process per line. Secret
// looking arguments are masked.
func WriteTree(w io.Writer, snap proctree.Snapshot) error {
	type frame struct {
		node   proctree.Snapshot
		prefix string
		last   bool
		root   bool
	}

	stack := []frame{{node: snap, root: true, last: true}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		branch, childPrefix := "", ""
		if !f.root {
			if f.last {
				branch, childPrefix = "└── ", f.prefix+"    "
			} else {
				branch, childPrefix = "├── ", f.prefix+"│   "
			}
		}
		if _, err := fmt.Fprintf(w, "%s%s%s\n", f.prefix, branch, DescribeProcess(f.node)); err != nil {
			return err
		}

		children := f.node.Children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{
				node:   children[i],
				prefix: childPrefix,
				last:   i == len(children)-1,
			})
		}
	}
	return nil
}

// DescribeProcess renders a single process as "pid name (state)" followed by
// its masked arguments.
func DescribeProcess(snap proctree.Snapshot) string {
	if snap.Placeholder {
		return fmt.Sprintf("pending %s", snap.Path)
	}
	name := snap.Name
	if name == "" {
		name = "?"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s (%s", snap.PID, name, snap.State)
	if snap.Filtered {
		b.WriteString(", filtered")
	}
	b.WriteString(")")
	if len(snap.Args) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(RedactArgs(snap.Args), " "))
	}
	return b.String()
}

// Age renders how long ago created was, relative to now.
func Age(created, now time.Time) string {
	if created.IsZero() {
		return "-"
	}
	d := now.Sub(created)
	if d < 0 {
		d = 0
	}
	return units.HumanDuration(d)
}
