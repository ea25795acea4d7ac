// Package tracker implements the Tracker Adapter (spec §4.1): a
// uniform contracts.TrackerAdapter over four concrete sources
// (JSON-PRD file, beads, beads-rust, beads-bv), each registered by
// plugin id so the session and CLI layers never branch on concrete
// type.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func traceJSONParse(operation string, data []byte, target interface{}) error {
	if err := json.Unmarshal(data, target); err != nil {
		fmt.Fprintf(os.Stderr, "JSON parse error in %s: %v\n", operation, err)
		limit := len(data)
		if limit > 200 {
			limit = 200
		}
		fmt.Fprintf(os.Stderr, "First 200 bytes: %q\n", string(data[:limit]))
		return err
	}
	return nil
}

// Runner is the narrow command-execution surface bead-based trackers
// need; execshell's Run(name, args...) does not match it directly, so
// cmd/ralph-tui's toolRunner adapts an execshell.Shell to it, and the
// tests use a scriptedRunner.
type Runner interface {
	Run(args ...string) (string, error)
}

// Issue is one bead-tool JSON record, covering both leaf tasks and
// epics returned with a Children slice.
type Issue struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	IssueType   string  `json:"issue_type"`
	Status      string  `json:"status"`
	Priority    int     `json:"priority"`
	Metadata    Meta    `json:"metadata"`
	Children    []Issue `json:"children,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Meta carries the bead metadata bag; Model is read when it is a
// string and ignored otherwise, per spec §4.1.
type Meta struct {
	Model interface{} `json:"model,omitempty"`
}

func (m Meta) modelString() string {
	if s, ok := m.Model.(string); ok {
		return s
	}
	return ""
}

// Bead is the flat record `show` returns for a single id.
type Bead struct {
	ID                 string
	Title              string
	Description        string
	AcceptanceCriteria string
	Status             string
	Model              string
}

// Adapter is the low-level command surface shared by beads,
// beads-rust, and beads-bv: only the lifecycleStrategy differs.
type Adapter struct {
	runner   Runner
	strategy lifecycleStrategy
}

func New(runner Runner) *Adapter {
	return &Adapter{runner: runner, strategy: defaultBDStrategy()}
}

func NewWithCapabilityProbe(runner Runner) (*Adapter, error) {
	capabilities, err := ProbeTrackerCapabilities(runner)
	if err != nil {
		return nil, err
	}
	return &Adapter{runner: runner, strategy: strategyFromCapabilities(capabilities)}, nil
}

// NewWithBackend pins the adapter to a known backend/binary instead of
// probing, for the beads-bv plugin id where the binary is fixed.
func NewWithBackend(runner Runner, backend string) *Adapter {
	return &Adapter{runner: runner, strategy: strategyFromCapabilities(TrackerCapabilities{Backend: backend, SyncMode: syncModeActive})}
}

func (a *Adapter) Ready(rootID string) (Issue, error) {
	output, err := a.runner.Run(a.strategy.ready(rootID)...)
	if err != nil {
		return Issue{}, err
	}
	var issues []Issue
	if err := traceJSONParse("Ready", []byte(output), &issues); err != nil {
		return Issue{}, err
	}
	if len(issues) == 0 {
		return a.readyFallback(rootID)
	}
	if len(issues) == 1 {
		return issues[0], nil
	}
	return Issue{ID: rootID, IssueType: "epic", Status: "open", Children: issues}, nil
}

func (a *Adapter) listTree(rootID string) ([]Issue, error) {
	output, err := a.runner.Run(a.strategy.listTree(rootID)...)
	if err != nil {
		return nil, err
	}
	var issues []Issue
	if err := traceJSONParse("listTree", []byte(output), &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

func (a *Adapter) Tree(rootID string) (Issue, error) {
	issues, err := a.listTree(rootID)
	if err != nil {
		return Issue{}, err
	}
	if len(issues) > 0 {
		if len(issues) == 1 {
			return issues[0], nil
		}
		for _, issue := range issues {
			if issue.ID == rootID {
				return issue, nil
			}
		}
		return Issue{ID: rootID, IssueType: "epic", Status: "open", Children: issues}, nil
	}

	output, err := a.runner.Run(a.strategy.show(rootID)...)
	if err != nil {
		return Issue{}, err
	}
	var fallback []Issue
	if err := json.Unmarshal([]byte(output), &fallback); err != nil {
		return Issue{}, err
	}
	if len(fallback) == 0 {
		return Issue{}, nil
	}
	return fallback[0], nil
}

func (a *Adapter) readyFallback(rootID string) (Issue, error) {
	output, err := a.runner.Run(a.strategy.show(rootID)...)
	if err != nil {
		return Issue{}, err
	}
	var issues []Issue
	if err := traceJSONParse("readyFallback", []byte(output), &issues); err != nil {
		return Issue{}, err
	}
	if len(issues) == 0 {
		return Issue{}, nil
	}
	issue := issues[0]
	if issue.Status != "open" {
		return Issue{}, nil
	}
	if issue.IssueType == "epic" || issue.IssueType == "molecule" {
		return Issue{}, nil
	}
	return issue, nil
}

type showIssue struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	AcceptanceCriteria string `json:"acceptance_criteria"`
	Status             string `json:"status"`
	Metadata           Meta   `json:"metadata"`
}

func (a *Adapter) Show(id string) (Bead, error) {
	output, err := a.runner.Run(a.strategy.show(id)...)
	if err != nil {
		return Bead{}, err
	}
	var issues []showIssue
	if err := traceJSONParse("Show", []byte(output), &issues); err != nil {
		return Bead{}, err
	}
	if len(issues) == 0 {
		return Bead{}, nil
	}
	issue := issues[0]
	return Bead{
		ID:                 issue.ID,
		Title:              issue.Title,
		Description:        issue.Description,
		AcceptanceCriteria: issue.AcceptanceCriteria,
		Status:             issue.Status,
		Model:              issue.Metadata.modelString(),
	}, nil
}

func (a *Adapter) UpdateStatus(id string, status string) error {
	_, err := a.runner.Run(a.strategy.updateStatus(id, status)...)
	return err
}

func (a *Adapter) UpdateStatusWithReason(id string, status string, reason string) error {
	if err := a.UpdateStatus(id, status); err != nil {
		return err
	}
	sanitized := sanitizeReason(reason)
	if sanitized == "" {
		return nil
	}
	_, err := a.runner.Run(a.strategy.updateNotes(id, sanitized)...)
	return err
}

func (a *Adapter) UpdateNotes(id string, notes string) error {
	_, err := a.runner.Run(a.strategy.updateNotes(id, notes)...)
	return err
}

func sanitizeReason(reason string) string {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return ""
	}
	trimmed = strings.ReplaceAll(trimmed, "\r\n", "\n")
	trimmed = strings.ReplaceAll(trimmed, "\r", "\n")
	trimmed = strings.ReplaceAll(trimmed, "\n", "; ")
	const maxLen = 500
	if len(trimmed) > maxLen {
		return truncateRunes(trimmed, maxLen)
	}
	return trimmed
}

func truncateRunes(input string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	count := 0
	for i := range input {
		if count == maxRunes {
			return input[:i]
		}
		count++
	}
	return input
}

func (a *Adapter) Close(id string, reason string) error {
	args := a.strategy.closeWithReason(id, reason)
	_, err := a.runner.Run(args...)
	return err
}

func (a *Adapter) CloseEligible() error {
	_, err := a.runner.Run(a.strategy.closeEligible()...)
	return err
}

func (a *Adapter) Sync() error {
	command := a.strategy.sync()
	if len(command) == 0 {
		return nil
	}
	_, err := a.runner.Run(command...)
	return err
}

// IsAvailable checks whether a beads-family data directory exists in
// the repository (spec §4.3's ".beads/" copy precondition).
func IsAvailable(repoRoot string) bool {
	beadsDir := filepath.Join(repoRoot, ".beads")
	_, err := os.Stat(beadsDir)
	return err == nil
}
