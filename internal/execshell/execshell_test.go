package execshell

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ralphtui/ralph-tui/internal/logging"
)

func TestFakeRunnerReturnsScriptedOutput(t *testing.T) {
	runner := NewFakeRunner()
	runner.Script("git", []string{"status", "--porcelain"}, []byte(""))

	output, err := runner.Run("git", "status", "--porcelain")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output != "" {
		t.Fatalf("expected empty output, got %q", output)
	}

	calls := runner.Calls()
	if len(calls) != 1 || calls[0].Name != "git" {
		t.Fatalf("expected one recorded call, got %+v", calls)
	}
}

func TestFakeRunnerReturnsScriptedError(t *testing.T) {
	runner := NewFakeRunner()
	boom := errors.New("boom")
	runner.ScriptError("git", []string{"merge", "--no-edit", "task/1"}, boom)

	_, err := runner.Run("git", "merge", "--no-edit", "task/1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected scripted error, got %v", err)
	}
}

func TestFakeRunnerRejectsUnscriptedCommand(t *testing.T) {
	runner := NewFakeRunner()
	if _, err := runner.Run("git", "status"); err == nil {
		t.Fatalf("expected error for unscripted command")
	}
}

func TestOSStreamRunnerTranslatesDeadlineExceeded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	var stdout, stderr bytes.Buffer
	err := OSStreamRunner.Run(ctx, Spec{
		Binary: "sleep",
		Args:   []string{"1"},
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestOSStreamRunnerRequiresBinary(t *testing.T) {
	err := OSStreamRunner.Run(context.Background(), Spec{})
	if err == nil {
		t.Fatalf("expected error for empty binary")
	}
}

func TestNewLoggedShellFilesEveryInvocationUnderItsComponent(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "commands")
	shell := NewLogged(t.TempDir(), logDir, logging.ComponentWorktree, "sess-1")

	if _, err := shell.Run("echo", "hello"); err != nil {
		t.Fatalf("run: %v", err)
	}

	entries, err := os.ReadDir(logDir)
	if err != nil {
		t.Fatalf("read log dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one command log file, got %d", len(entries))
	}

	content, err := os.ReadFile(filepath.Join(logDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if err := logging.ValidateStructuredLogLine(content); err != nil {
		t.Fatalf("expected a valid structured log line: %v", err)
	}
}

func TestUnloggedShellDoesNotTouchTheFilesystemForLogs(t *testing.T) {
	shell := New(t.TempDir())
	if shell.Logger != nil {
		t.Fatalf("expected a plain Shell to have no logger wired")
	}
	if _, err := shell.Run("echo", "hello"); err != nil {
		t.Fatalf("run: %v", err)
	}
}
