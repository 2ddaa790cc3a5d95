//go:build windows

package osproc

// go-ps only lists running processes on Windows, so a successful lookup is
// enough.
func alive(pid int) bool {
	return pid > 0
}
