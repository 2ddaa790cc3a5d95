//go:build !linux

package osproc

import (
	"fmt"

	"github.com/Paintersrp/lineage/internal/proctree"
)

func isZombie(int) bool { return false }

func resolve(pid int) (proctree.Metadata, error) {
	return proctree.Metadata{}, fmt.Errorf("resolve %d: %w", pid, ErrUnsupported)
}
