// Package worktree implements the Worktree Manager (spec §4.3):
// naming and sanitization, disk-space preconditions, session/worker
// worktree creation, resume-mode detection, merge-back, and
// iteration-log preservation.
package worktree

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"strconv"
	"strings"
)

// gitInvalidChars mirrors spec §4.3: whitespace and the characters
// git itself rejects in ref names.
const gitInvalidChars = "~^:?*[\\@{"

// DeriveName picks a worktree/session name using the priority order
// from spec §4.3: user-supplied custom name, then epic id, then PRD
// basename (extension stripped), then the first 8 characters of the
// session UUID, sanitizing whichever candidate wins.
func DeriveName(custom, epicID, prdPath, sessionUUID string) string {
	candidates := []string{custom, epicID, prdBasename(prdPath), firstN(sessionUUID, 8)}
	for _, candidate := range candidates {
		if sanitized := Sanitize(candidate); sanitized != "" {
			return sanitized
		}
	}
	return hashFallback(sessionUUID)
}

func prdBasename(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Sanitize replaces whitespace and git-invalid characters with "-",
// strips control characters, collapses repeated separators, trims
// leading/trailing "./-", and rejects names that would end in
// ".lock". Returns "" when nothing usable survives.
func Sanitize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range raw {
		switch {
		case r < 0x20 || r == 0x7f:
			continue
		case r == ' ' || r == '\t' || strings.ContainsRune(gitInvalidChars, r):
			b.WriteByte('-')
		default:
			b.WriteRune(r)
		}
	}
	collapsed := collapseSeparators(b.String())
	trimmed := strings.Trim(collapsed, "./-")
	if trimmed == "" {
		return ""
	}
	if strings.HasSuffix(trimmed, ".lock") {
		trimmed = strings.TrimSuffix(trimmed, ".lock") + "-lock"
	}
	return trimmed
}

func collapseSeparators(s string) string {
	var b strings.Builder
	lastWasSep := false
	for _, r := range s {
		isSep := r == '-' || r == '/'
		if isSep && lastWasSep {
			continue
		}
		b.WriteRune(r)
		lastWasSep = isSep
	}
	return b.String()
}

func hashFallback(seed string) string {
	sum := sha1.Sum([]byte(seed))
	return "wt-" + hex.EncodeToString(sum[:])[:8]
}

// SessionBranch returns the branch name a session worktree is created
// on: "ralph-session/<name>".
func SessionBranch(name string) string {
	return "ralph-session/" + name
}

// WorkerBranch returns the branch name a worker worktree is created
// on: "ralph-worker/<name>-<n>".
func WorkerBranch(name string, workerIndex int) string {
	return "ralph-worker/" + name + "-" + strconv.Itoa(workerIndex)
}

// SessionPath returns the absolute worktree path for a session:
// "<parentOfCwd>/.ralph-worktrees/<project>/<name>".
func SessionPath(cwd, project, name string) string {
	parent := filepath.Dir(cwd)
	return filepath.Join(parent, ".ralph-worktrees", project, name)
}

// WorkerPath returns the absolute worktree path for a worker nested
// under the session's own worktree.
func WorkerPath(sessionWorktreePath string, workerIndex int) string {
	return filepath.Join(sessionWorktreePath, ".ralph-workers", strconv.Itoa(workerIndex))
}
