//go:build unix

package cleanup

import (
	"syscall"

	"github.com/Iron-Ham/warren/internal/errors"
)

// processAlive checks pid with signal 0.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
