package worktree

import (
	"strconv"
	"strings"
	"syscall"

	"github.com/ralphtui/ralph-tui/internal/execshell"
)

// MinFreeBytes is the reserved free-space floor from spec §4.3.
const MinFreeBytes = 500 * 1024 * 1024

// HasSufficientDiskSpace reports whether path's filesystem has at
// least MinFreeBytes available, querying syscall.Statfs first and
// falling back to parsing `df -Pk`. If neither yields a number, it
// proceeds optimistically (returns true) per spec §4.3.
func HasSufficientDiskSpace(runner execshell.Runner, path string) bool {
	if free, ok := statfsFree(path); ok {
		return free >= MinFreeBytes
	}
	if free, ok := dfFree(runner, path); ok {
		return free >= MinFreeBytes
	}
	return true
}

func statfsFree(path string) (uint64, bool) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, false
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize), true
}

// dfFree shells out to `df -Pk <path>` and parses the "Available"
// column (in KiB) from the second line of output.
func dfFree(runner execshell.Runner, path string) (uint64, bool) {
	if runner == nil {
		return 0, false
	}
	output, err := runner.Run("df", "-Pk", path)
	if err != nil {
		return 0, false
	}
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 2 {
		return 0, false
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 4 {
		return 0, false
	}
	availKB, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return 0, false
	}
	return availKB * 1024, true
}
