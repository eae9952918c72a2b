//go:build linux

package worker

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// pinToCore locks the calling goroutine to its OS thread and binds that
// thread to a single CPU core, round-robin by camera id, to reduce
// cross-camera contention. Failure to pin is reported, never fatal.
func pinToCore(cameraID int64) error {
	runtime.LockOSThread()

	core := int(cameraID) % runtime.NumCPU()
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(0, &set)
}
