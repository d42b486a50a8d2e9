//go:build windows

package cleanup

import "os"

// processAlive reports whether a process handle for pid can be opened.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
