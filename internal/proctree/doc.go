// Package proctree models a launched process and everything it spawned.
//
// A Node mirrors one OS process. Nodes form a tree through AddChild; the
// tree is refreshed by polling (RefreshTree), grown by scanning the OS
// process table (Rescan), and torn down with Kill. The package never talks
// to the operating system itself: every OS interaction goes through the
// Querier, MetadataResolver, Enumerator and Terminator collaborators carried
// by the tree's Env.
//
// Notifications flow bottom-up. A transition fires the node's StateChanged
// handlers, then ChildStateChanged on the node and each ancestor up to the
// root, so one subscription on the root observes the whole tree.
package proctree
