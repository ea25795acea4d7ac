package worktree

import (
	"testing"

	"github.com/ralphtui/ralph-tui/internal/execshell"
)

func TestHasSufficientDiskSpaceTrustsStatfsOnARealPath(t *testing.T) {
	if !HasSufficientDiskSpace(nil, t.TempDir()) {
		t.Fatalf("expected the test filesystem to clear the 500 MiB floor")
	}
}

// invalidPath embeds a NUL byte, which syscall.Statfs always rejects,
// forcing HasSufficientDiskSpace onto the `df -Pk` fallback.
const invalidPath = "/tmp/does-not-matter\x00"

func TestHasSufficientDiskSpaceFallsBackToDfWhenStatfsFails(t *testing.T) {
	runner := execshell.NewFakeRunner()
	runner.Script("df", []string{"-Pk", invalidPath}, []byte("Filesystem 1K-blocks Used Available Use% Mounted on\n/dev/sda1 1000000 100000 900000 10% /\n"))

	if !HasSufficientDiskSpace(runner, invalidPath) {
		t.Fatalf("expected df's 900000 KiB available to clear the floor")
	}
}

func TestHasSufficientDiskSpaceReportsPressureFromDf(t *testing.T) {
	runner := execshell.NewFakeRunner()
	runner.Script("df", []string{"-Pk", invalidPath}, []byte("Filesystem 1K-blocks Used Available Use% Mounted on\n/dev/sda1 1000 990 10 99% /\n"))

	if HasSufficientDiskSpace(runner, invalidPath) {
		t.Fatalf("expected df's 10 KiB available to be below the 500 MiB floor")
	}
}

func TestHasSufficientDiskSpaceIsOptimisticWhenNeitherSourceYieldsANumber(t *testing.T) {
	runner := execshell.NewFakeRunner()
	if !HasSufficientDiskSpace(runner, invalidPath) {
		t.Fatalf("expected an unscripted df fallback to proceed optimistically")
	}
	calls := runner.Calls()
	if len(calls) != 1 || calls[0].Name != "df" {
		t.Fatalf("expected the optimistic path to have actually tried df, got %+v", calls)
	}
}
