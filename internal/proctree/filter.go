package proctree

import "strings"

// noisyHelpers lists path fragments of helper processes that routinely show
// up under launched applications but are of no interest to consumers.
var noisyHelpers = []string{
	"svchost",
	"conhost",
	"werfault",
	"wermgr",
	"dllhost",
	"runtimebroker",
	"backgroundtaskhost",
	"crashpad_handler",
	"crashhandler",
	"crashreporter",
	"crash_reporter",
	"gpu-process",
	"winedevice",
	"wineserver",
	"services.exe",
	"plugplay.exe",
	"rpcss.exe",
	"explorer.exe",
}

// NoisyHelpers returns a copy of the built-in denylist.
func NoisyHelpers() []string {
	return append([]string(nil), noisyHelpers...)
}

// IsFiltered reports whether the node is noise: its path contains a
// built-in helper fragment, or its name equals one of the filters captured
// at construction. Matching is case-insensitive. Filtering never changes
// the tree.
func (n *Node) IsFiltered() bool {
	if n.path != "" {
		lowerPath := strings.ToLower(n.path)
		for _, fragment := range noisyHelpers {
			if strings.Contains(lowerPath, fragment) {
				return true
			}
		}
	}
	for _, filter := range n.filters {
		if filter != "" && strings.EqualFold(n.name, filter) {
			return true
		}
	}
	return false
}
