//go:build linux

package dytor

import (
	"golang.org/x/sys/unix"
)

// setThreadAffinity pins the calling OS thread to the given CPU indices.
// The caller must have locked the goroutine to its thread first.
func setThreadAffinity(cpus []int) error {
	var set unix.CPUSet
	for _, cpu := range cpus {
		set.Set(cpu)
	}

	// tid 0 targets the calling thread.
	return unix.SchedSetaffinity(0, &set)
}
