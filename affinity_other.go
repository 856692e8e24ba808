//go:build !linux

package dytor

import (
	"fmt"
	"runtime"
)

// setThreadAffinity is a stub on platforms without a thread affinity
// syscall. Affinity is advisory, so the caller logs and continues.
func setThreadAffinity(_ []int) error {
	return fmt.Errorf("thread affinity not supported on %s", runtime.GOOS)
}
