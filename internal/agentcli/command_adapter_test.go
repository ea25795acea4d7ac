package agentcli

import (
	"context"
	"errors"
	"testing"

	"github.com/ralphtui/ralph-tui/internal/contracts"
	"github.com/ralphtui/ralph-tui/internal/execshell"
)

type stubStreamRunner struct {
	lastSpec execshell.Spec
	err      error
	write    string
}

func (s *stubStreamRunner) Run(_ context.Context, spec execshell.Spec) error {
	s.lastSpec = spec
	if s.write != "" {
		spec.Stdout.Write([]byte(s.write))
	}
	return s.err
}

func testDefinition() BackendDefinition {
	return normalizeBackendDefinition(BackendDefinition{
		Name:         "custom-cli",
		Binary:       "/usr/bin/custom-cli",
		DefaultFlags: []string{"run"},
		BuildArgs:    []string{"--task", "{{task_id}}"},
	})
}

func TestCommandAgentAdapterOrdersFlagsWithModelLast(t *testing.T) {
	stub := &stubStreamRunner{write: "done\n"}
	adapter := NewCommandAgentAdapter(testDefinition(), stub, EnvFilter{})

	_, err := adapter.Run(context.Background(), contracts.RunnerRequest{
		TaskID:     "task-1",
		Model:      "custom-model",
		Prompt:     "implement the feature",
		RepoRoot:   t.TempDir(),
		ExtraFlags: []string{"--verbose"},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	args := stub.lastSpec.Args
	want := []string{"run", "--task", "task-1", "--verbose", "--model", "custom-model"}
	if len(args) != len(want) {
		t.Fatalf("unexpected args: %#v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("unexpected args: %#v", args)
		}
	}
}

func TestCommandAgentAdapterRunReturnsCompletedOnSuccess(t *testing.T) {
	stub := &stubStreamRunner{write: "ok\n"}
	adapter := NewCommandAgentAdapter(testDefinition(), stub, EnvFilter{})

	result, err := adapter.Run(context.Background(), contracts.RunnerRequest{TaskID: "task-1", RepoRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Status != contracts.RunnerResultCompleted {
		t.Fatalf("expected completed status, got %v", result.Status)
	}
	if result.Stdout != "ok\n" {
		t.Fatalf("expected stdout captured, got %q", result.Stdout)
	}
}

func TestCommandAgentAdapterRunReturnsFailedOnError(t *testing.T) {
	stub := &stubStreamRunner{err: errors.New("boom")}
	adapter := NewCommandAgentAdapter(testDefinition(), stub, EnvFilter{})

	result, err := adapter.Run(context.Background(), contracts.RunnerRequest{TaskID: "task-1", RepoRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("unexpected top-level error: %v", err)
	}
	if result.Status != contracts.RunnerResultFailed {
		t.Fatalf("expected failed status, got %v", result.Status)
	}
}

func TestCommandAgentAdapterValidateModelRejectsUnsupportedPattern(t *testing.T) {
	definition := testDefinition()
	definition.SupportedModels = []string{"custom-*"}
	adapter := NewCommandAgentAdapter(definition, &stubStreamRunner{}, EnvFilter{})

	if err := adapter.ValidateModel("other-model"); err == nil {
		t.Fatalf("expected validation error for unsupported model")
	}
	if err := adapter.ValidateModel("custom-large"); err != nil {
		t.Fatalf("expected supported model to validate, got %v", err)
	}
}

func TestCommandAgentAdapterFilterEnvBlocksSecrets(t *testing.T) {
	adapter := NewCommandAgentAdapter(testDefinition(), &stubStreamRunner{}, EnvFilter{})
	result := adapter.FilterEnv([]string{"MY_API_KEY=x", "HOME=/root"})
	if len(result.Blocked) != 1 || result.Blocked[0] != "MY_API_KEY" {
		t.Fatalf("unexpected blocked vars: %v", result.Blocked)
	}
}
