//go:build linux

package osproc

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Paintersrp/lineage/internal/proctree"
)

func procPath(pid int, name string) string {
	return "/proc/" + strconv.Itoa(pid) + "/" + name
}

func isZombie(pid int) bool {
	data, err := os.ReadFile(procPath(pid, "stat"))
	if err != nil {
		return false
	}
	// The command name may contain spaces, so the state follows the last ')'.
	end := bytes.LastIndexByte(data, ')')
	if end < 0 || end+2 >= len(data) {
		return false
	}
	state := data[end+2]
	return state == 'Z' || state == 'X'
}

func resolve(pid int) (proctree.Metadata, error) {
	path, err := os.Readlink(procPath(pid, "exe"))
	if err != nil {
		return proctree.Metadata{}, fmt.Errorf("resolve executable of %d: %w", pid, err)
	}
	path = strings.TrimSuffix(path, " (deleted)")

	var args []string
	if raw, err := os.ReadFile(procPath(pid, "cmdline")); err == nil {
		fields := strings.Split(strings.TrimRight(string(raw), "\x00"), "\x00")
		if len(fields) > 1 {
			args = fields[1:]
		}
	}
	return proctree.Metadata{Path: path, Args: args}, nil
}
