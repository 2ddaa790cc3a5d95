// Package osproc binds the process tree collaborators to the host
// operating system.
//
// Process enumeration goes through go-ps on every platform. Liveness on
// Unix is checked with a null signal, and on Linux zombies are reported as
// dead by reading /proc/<pid>/stat. Executable paths and command lines are
// only resolved on Linux; elsewhere a node keeps whatever identity it was
// launched or discovered with.
//
// Termination of descendants is only guaranteed on Linux and macOS when the
// target leads its own process group, which is the case for everything the
// direct launcher starts. On Windows termination shells out to taskkill,
// which walks the tree itself.
package osproc
