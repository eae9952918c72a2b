//go:build !linux

package worker

import "runtime"

// pinToCore only locks the goroutine to its OS thread on platforms without
// sched_setaffinity.
func pinToCore(_ int64) error {
	runtime.LockOSThread()
	return nil
}
