package cleanup

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
)

// RunDir is the directory below the data directory holding one file per
// running warren process.
const RunDir = "run"

// Register records the current process as a user of dataDir. The returned
// function removes the record.
func Register(dataDir string) (func(), error) {
	dir := filepath.Join(dataDir, RunDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	path := filepath.Join(dir, strconv.Itoa(os.Getpid()))
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return nil, fmt.Errorf("failed to register process: %w", err)
	}
	return func() { _ = os.Remove(path) }, nil
}

// LivePIDs returns the other registered processes that are still running.
// Records of dead processes are removed.
func LivePIDs(dataDir string) ([]int, error) {
	dir := filepath.Join(dataDir, RunDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var live []int
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || entry.IsDir() {
			continue
		}
		if pid == os.Getpid() {
			continue
		}
		if !processAlive(pid) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
			continue
		}
		live = append(live, pid)
	}
	slices.Sort(live)
	return live, nil
}
