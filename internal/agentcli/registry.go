package agentcli

import (
	"fmt"

	"github.com/ralphtui/ralph-tui/internal/contracts"
	"github.com/ralphtui/ralph-tui/internal/execshell"
)

// BuildAdapter resolves a plugin id from the catalog and wraps it as a
// contracts.AgentAdapter, applying the given environment filter.
func BuildAdapter(catalog Catalog, name string, runner execshell.StreamRunner, envFilter EnvFilter) (contracts.AgentAdapter, error) {
	definition, ok := catalog.Backend(name)
	if !ok {
		return nil, fmt.Errorf("unknown agent backend %q (known: %v)", name, catalog.Names())
	}
	return NewCommandAgentAdapter(definition, runner, envFilter), nil
}
