package agentcli

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/ralphtui/ralph-tui/internal/contracts"
)

// defaultDenyPatterns is the deny-list spec §4.2 requires every Agent
// Adapter to apply before user configuration is consulted.
var defaultDenyPatterns = []string{"*_API_KEY", "*_SECRET_KEY", "*_SECRET"}

// EnvFilter applies the default deny-list plus user-configured
// additions and passthrough globs to a base environment (name=value
// pairs), reporting what it blocked and allowed for logging.
type EnvFilter struct {
	ExtraDeny  []string
	Passthrough []string
}

func (f EnvFilter) Filter(base []string) (filtered []string, result contracts.EnvFilterResult) {
	deny := append(append([]string(nil), defaultDenyPatterns...), f.ExtraDeny...)
	for _, kv := range base {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			filtered = append(filtered, kv)
			continue
		}
		if matchesAny(f.Passthrough, name) {
			filtered = append(filtered, kv)
			result.Allowed = append(result.Allowed, name)
			continue
		}
		if matchesAny(deny, name) {
			result.Blocked = append(result.Blocked, name)
			continue
		}
		filtered = append(filtered, kv)
		result.Allowed = append(result.Allowed, name)
	}
	sort.Strings(result.Blocked)
	sort.Strings(result.Allowed)
	return filtered, result
}

func matchesAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if matched, err := filepath.Match(pattern, name); err == nil && matched {
			return true
		}
	}
	return false
}
