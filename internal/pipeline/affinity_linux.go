//go:build linux

package pipeline

import "golang.org/x/sys/unix"

// pinToCore binds the calling OS thread to core. Callers hold
// runtime.LockOSThread.
func pinToCore(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(0, &set)
}
