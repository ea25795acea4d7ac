// Package orcherrors implements the error taxonomy from spec §7:
// abstract kinds used in logs and tests, each carrying the
// originating component and one suggested remediation so the
// structured logger can always emit an operator-readable sentence.
package orcherrors

import (
	"errors"
	"fmt"
)

// Kind is one of the ten abstract error categories the orchestrator
// classifies failures into.
type Kind string

const (
	KindConfigError             Kind = "config_error"
	KindLockConflict            Kind = "lock_conflict"
	KindTrackerUnavailable      Kind = "tracker_unavailable"
	KindAgentUnavailable        Kind = "agent_unavailable"
	KindAgentTimeout            Kind = "agent_timeout"
	KindAgentCompletionMissing  Kind = "agent_completion_missing"
	KindMergeConflict           Kind = "merge_conflict"
	KindDiskPressure            Kind = "disk_pressure"
	KindModelRejected           Kind = "model_rejected"
	KindStateCorrupted          Kind = "state_corrupted"
)

// ExitCode maps a Kind to the process exit code from spec §6, where
// applicable. Kinds with no direct CLI mapping return 1.
func (k Kind) ExitCode() int {
	switch k {
	case KindConfigError:
		return 2
	case KindLockConflict:
		return 3
	default:
		return 1
	}
}

// Retryable reports whether the Iteration Engine's error-handling
// policy should consider this kind for a retry before escalating.
func (k Kind) Retryable() bool {
	switch k {
	case KindTrackerUnavailable, KindAgentUnavailable, KindAgentTimeout:
		return true
	default:
		return false
	}
}

// Fatal reports whether this kind is never recoverable by the
// Iteration Engine and must propagate to the Session Manager.
func (k Kind) Fatal() bool {
	switch k {
	case KindConfigError, KindLockConflict, KindDiskPressure, KindStateCorrupted:
		return true
	default:
		return false
	}
}

// Error is a classified orchestrator error: a Kind, the component
// that raised it, the underlying cause, and one suggested action.
type Error struct {
	Kind       Kind
	Component  string
	Suggestion string
	Cause      error
}

func New(kind Kind, component string, suggestion string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Suggestion: suggestion, Cause: cause}
}

func (e *Error) Error() string {
	cause := "unknown cause"
	if e.Cause != nil {
		cause = e.Cause.Error()
	}
	return fmt.Sprintf("[%s] %s: %s (suggestion: %s)", e.Component, e.Kind, cause, e.Suggestion)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, orcherrors.KindX) style checks against a
// sentinel-wrapped Kind value produced by KindSentinel.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindSentinel returns a comparable *Error carrying only a Kind, for
// use with errors.Is(err, orcherrors.KindSentinel(orcherrors.KindAgentTimeout)).
func KindSentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Format renders the "operator-readable sentence with one suggested
// action" spec §7 requires: category, cause, and next step.
func Format(err error) string {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return fmt.Sprintf("Category: %s\nCause: %s\nNext step: %s", classified.Kind, err.Error(), classified.Suggestion)
	}
	cause, suggestion := Classify(err.Error())
	return fmt.Sprintf("Category: %s\nCause: %s\nNext step: %s", cause, err.Error(), suggestion)
}

// Classify assigns an unclassified error message to a best-guess
// category by keyword, for errors that originate outside this
// package's typed constructors (e.g. raw subprocess failures).
func Classify(message string) (category string, suggestion string) {
	switch {
	case containsAny(message, "git checkout", "git merge", "git worktree", "merge conflict"):
		if containsAny(message, "merge conflict") {
			return string(KindMergeConflict), "resolve the conflict manually or re-run with conflict resolution enabled"
		}
		return "git/vcs", "inspect the working tree for uncommitted changes and retry"
	case containsAny(message, "tk show", "tk list", "bd show", "bd list", "beads", "tracker"):
		return "tracker", "verify the tracker plugin id and epic id/PRD path in the config"
	case containsAny(message, "stall", "timeout", "timed out"):
		return "runner_timeout_stall", "increase the per-agent timeout or check the agent binary is responsive"
	case containsAny(message, "initialization failed", "not found", "missing"):
		return "runner_init", "run preflight to confirm the agent binary and credentials are available"
	default:
		return "unknown", "inspect the full log for this iteration"
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if len(n) == 0 {
			continue
		}
		if indexFold(haystack, n) >= 0 {
			return true
		}
	}
	return false
}

func indexFold(haystack, needle string) int {
	hl, nl := len(haystack), len(needle)
	if nl == 0 || nl > hl {
		return -1
	}
	for i := 0; i+nl <= hl; i++ {
		if equalFold(haystack[i:i+nl], needle) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
