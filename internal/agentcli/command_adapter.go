package agentcli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ralphtui/ralph-tui/internal/contracts"
	"github.com/ralphtui/ralph-tui/internal/execshell"
)

// CommandAgentAdapter runs one BackendDefinition as a
// contracts.AgentAdapter, honoring the flag-ordering rule from spec
// §4.2: [cmd] [default_flags] [buildArgs(...)] [engine_flags], with
// any model flag the engine injects appended last so it wins under
// "last flag wins" CLIs.
type CommandAgentAdapter struct {
	definition BackendDefinition
	runner     execshell.StreamRunner
	envFilter  EnvFilter
	now        func() time.Time
}

func NewCommandAgentAdapter(definition BackendDefinition, runner execshell.StreamRunner, envFilter EnvFilter) *CommandAgentAdapter {
	if runner == nil {
		runner = execshell.OSStreamRunner
	}
	return &CommandAgentAdapter{definition: definition, runner: runner, envFilter: envFilter, now: time.Now}
}

func (a *CommandAgentAdapter) Name() string {
	return a.definition.Name
}

func (a *CommandAgentAdapter) Capabilities() contracts.AgentCapabilities {
	return contracts.AgentCapabilities{
		SupportsStreaming:       a.definition.SupportsStreaming,
		SupportsInterrupt:       a.definition.SupportsInterrupt,
		SupportsFileContext:     a.definition.SupportsFileContext,
		SupportsSubagentTracing: a.definition.SupportsSubagentTracing,
		StructuredOutputFormat:  a.definition.StructuredOutputFormat,
	}
}

func (a *CommandAgentAdapter) ValidateModel(name string) error {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	if len(a.definition.SupportedModels) == 0 {
		return nil
	}
	if supportsModelPattern(a.definition.SupportedModels, name) {
		return nil
	}
	return fmt.Errorf("model %q is not supported by backend %q (supported: %s)", name, a.definition.Name, strings.Join(a.definition.SupportedModels, ", "))
}

func (a *CommandAgentAdapter) FilterEnv(base []string) contracts.EnvFilterResult {
	_, result := a.envFilter.Filter(base)
	return result
}

// Preflight runs the backend's detect probe (spec §4.2): a short
// invocation expected to exit cleanly, confirming the binary is on
// PATH and any required credentials are present.
func (a *CommandAgentAdapter) Preflight(ctx context.Context) (contracts.PreflightResult, error) {
	if err := checkRequiredCredentials(a.definition.RequiredCredentials, os.Getenv); err != nil {
		return contracts.PreflightResult{OK: false, FailReason: err.Error(), Suggestion: "set the required credential environment variables before starting a session"}, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var stdout strings.Builder
	err := a.runner.Run(probeCtx, execshell.Spec{
		Binary: a.definition.Binary,
		Args:   a.definition.DetectArgs,
		Stdout: &stdout,
		Stderr: io.Discard,
	})
	if err != nil {
		return contracts.PreflightResult{
			OK:         false,
			FailReason: fmt.Sprintf("backend %q did not respond to a detect probe: %v", a.definition.Name, err),
			Suggestion: fmt.Sprintf("confirm %q is installed and on PATH", a.definition.Binary),
		}, nil
	}
	return contracts.PreflightResult{OK: true}, nil
}

func checkRequiredCredentials(names []string, getenv func(string) string) error {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if strings.TrimSpace(getenv(name)) == "" {
			return fmt.Errorf("missing required credential %s", name)
		}
	}
	return nil
}

func (a *CommandAgentAdapter) Run(ctx context.Context, request contracts.RunnerRequest) (contracts.RunnerResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(a.definition.Binary) == "" {
		return contracts.RunnerResult{}, errors.New("binary is required")
	}

	args := a.buildArgs(request)
	env, _ := a.envFilter.Filter(append(os.Environ(), request.Env...))

	runCtx := ctx
	cancel := func() {}
	if request.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, request.Timeout)
	}
	defer cancel()

	if request.Cancel != nil {
		var stop context.CancelFunc
		runCtx, stop = context.WithCancel(runCtx)
		go func() {
			select {
			case <-request.Cancel:
				stop()
			case <-runCtx.Done():
			}
		}()
	}

	var stdout, stderr strings.Builder
	stdoutWriter := newProgressWriter(&stdout, "stdout", request.OnProgress, a.now)
	stderrWriter := newProgressWriter(&stderr, "stderr", request.OnProgress, a.now)

	startedAt := a.now().UTC()
	runErr := a.runner.Run(runCtx, execshell.Spec{
		Binary: a.definition.Binary,
		Args:   args,
		Env:    env,
		Dir:    request.RepoRoot,
		Stdin:  strings.NewReader(request.Prompt),
		Stdout: stdoutWriter,
		Stderr: stderrWriter,
	})
	stdoutWriter.Flush()
	stderrWriter.Flush()
	finishedAt := a.now().UTC()

	result := contracts.NormalizeBackendRunnerResult(startedAt, finishedAt, request, runErr, nil)
	result.Stdout = capBytes(stdout.String(), request.MaxOutputBytes)
	if result.Status == contracts.RunnerResultFailed {
		result.Stderr = capBytes(stderr.String(), request.MaxOutputBytes)
	}
	return result, nil
}

// buildArgs assembles [default_flags] [buildArgs(...)] [engine_flags]
// with the model flag injected last, matching spec §4.2's ordering
// rule verbatim.
func (a *CommandAgentAdapter) buildArgs(request contracts.RunnerRequest) []string {
	out := make([]string, 0, len(a.definition.DefaultFlags)+len(a.definition.BuildArgs)+len(request.ExtraFlags)+2)
	out = append(out, a.definition.DefaultFlags...)
	out = append(out, renderTemplate(a.definition.BuildArgs, request)...)
	out = append(out, request.ExtraFlags...)
	if strings.TrimSpace(request.Model) != "" {
		out = append(out, a.definition.ModelFlag, strings.TrimSpace(request.Model))
	}
	return out
}

func renderTemplate(raw []string, request contracts.RunnerRequest) []string {
	replacements := map[string]string{
		"{{model}}":     strings.TrimSpace(request.Model),
		"{{task_id}}":   strings.TrimSpace(request.TaskID),
		"{{repo_root}}": strings.TrimSpace(request.RepoRoot),
	}
	out := make([]string, 0, len(raw))
	for _, value := range raw {
		text := value
		for placeholder, replacement := range replacements {
			text = strings.ReplaceAll(text, placeholder, replacement)
		}
		out = append(out, text)
	}
	return out
}

func capBytes(s string, max int64) string {
	if max <= 0 || int64(len(s)) <= max {
		return s
	}
	return s[:max]
}

// progressWriter tees a stream into the given target builder while
// emitting completed lines through OnProgress, mirroring the
// line-oriented log writer built-in adapters have always used.
type progressWriter struct {
	target   *strings.Builder
	pending  strings.Builder
	source   string
	callback func(contracts.RunnerProgress)
	now      func() time.Time
}

func newProgressWriter(target *strings.Builder, source string, callback func(contracts.RunnerProgress), now func() time.Time) *progressWriter {
	return &progressWriter{target: target, source: source, callback: callback, now: now}
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.target.Write(p)
	for _, b := range p {
		if b == '\n' {
			w.emit(w.pending.String())
			w.pending.Reset()
			continue
		}
		w.pending.WriteByte(b)
	}
	return len(p), nil
}

func (w *progressWriter) Flush() {
	if w.pending.Len() == 0 {
		return
	}
	w.emit(w.pending.String())
	w.pending.Reset()
}

func (w *progressWriter) emit(line string) {
	line = strings.TrimSpace(line)
	if line == "" || w.callback == nil {
		return
	}
	w.callback(contracts.RunnerProgress{
		Type:      "runner_output",
		Message:   line,
		Metadata:  map[string]string{"source": w.source},
		Timestamp: w.now().UTC(),
	})
}
