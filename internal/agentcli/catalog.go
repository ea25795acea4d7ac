// Package agentcli implements the Agent Adapter (spec §4.2): a
// registry of coding-agent command-line backends, each declared as a
// small YAML definition (built in, or dropped by the user under
// .ralph-tui/coding-agents/), and one generic runner that spawns any
// of them under a uniform contract.
package agentcli

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

const (
	builtinBackendDir    = "builtin"
	agentConfigDir       = ".ralph-tui"
	customBackendRelPath = "coding-agents"
)

// BackendDefinition is one entry of the catalog: everything needed to
// spawn a command-line coding agent and describe what it can do.
type BackendDefinition struct {
	Name                    string   `yaml:"name" json:"name"`
	Binary                  string   `yaml:"binary" json:"binary"`
	DefaultFlags            []string `yaml:"default_flags" json:"default_flags"`
	BuildArgs               []string `yaml:"build_args" json:"build_args"`
	ModelFlag               string   `yaml:"model_flag" json:"model_flag"`
	SupportsStreaming       bool     `yaml:"supports_streaming" json:"supports_streaming"`
	SupportsInterrupt       bool     `yaml:"supports_interrupt" json:"supports_interrupt"`
	SupportsFileContext     bool     `yaml:"supports_file_context" json:"supports_file_context"`
	SupportsSubagentTracing bool     `yaml:"supports_subagent_tracing" json:"supports_subagent_tracing"`
	StructuredOutputFormat  string   `yaml:"structured_output_format" json:"structured_output_format"`
	SupportedModels         []string `yaml:"supported_models" json:"supported_models"`
	RequiredCredentials     []string `yaml:"required_credentials" json:"required_credentials"`
	DetectArgs              []string `yaml:"detect_args" json:"detect_args"`
}

// Catalog is the set of backends known to this process: builtin
// definitions plus any repo-local custom ones.
type Catalog struct {
	backends map[string]BackendDefinition
}

func LoadCatalog(repoRoot string) (Catalog, error) {
	catalog := Catalog{backends: map[string]BackendDefinition{}}

	builtin, err := loadBuiltinBackends()
	if err != nil {
		return Catalog{}, err
	}
	for _, definition := range builtin {
		if err := catalog.add(definition); err != nil {
			return Catalog{}, err
		}
	}

	repoRoot = strings.TrimSpace(repoRoot)
	if repoRoot == "" {
		return catalog, nil
	}

	customDir := filepath.Join(repoRoot, agentConfigDir, customBackendRelPath)
	entries, err := os.ReadDir(customDir)
	if err != nil {
		if os.IsNotExist(err) {
			return catalog, nil
		}
		return Catalog{}, fmt.Errorf("cannot read custom coding agents from %q: %w", customDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		extension := strings.ToLower(filepath.Ext(entry.Name()))
		switch extension {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}

		fullPath := filepath.Join(customDir, entry.Name())
		payload, err := os.ReadFile(fullPath)
		if err != nil {
			return Catalog{}, fmt.Errorf("read custom backend definition %q: %w", fullPath, err)
		}

		definition, err := parseBackendDefinition(payload, extension)
		if err != nil {
			return Catalog{}, fmt.Errorf("parse custom backend definition %q: %w", fullPath, err)
		}
		if err := catalog.add(definition); err != nil {
			return Catalog{}, err
		}
	}

	return catalog, nil
}

func (c *Catalog) add(raw BackendDefinition) error {
	if c.backends == nil {
		c.backends = map[string]BackendDefinition{}
	}
	definition := normalizeBackendDefinition(raw)
	if strings.TrimSpace(definition.Name) == "" {
		return fmt.Errorf("backend name is required")
	}
	if err := validateBackendDefinition(definition); err != nil {
		return fmt.Errorf("invalid backend definition %q: %w", definition.Name, err)
	}
	c.backends[definition.Name] = definition
	return nil
}

func (c Catalog) Backend(name string) (BackendDefinition, bool) {
	if c.backends == nil {
		return BackendDefinition{}, false
	}
	backend, ok := c.backends[normalizeBackend(name)]
	return backend, ok
}

func (c Catalog) Names() []string {
	if len(c.backends) == 0 {
		return nil
	}
	values := make([]string, 0, len(c.backends))
	for name := range c.backends {
		values = append(values, name)
	}
	sort.Strings(values)
	return values
}

// ValidateBackendUsage checks a requested model against the backend's
// supported-model glob patterns and that every required credential
// environment variable is set, the two preflight checks spec §4.2's
// validateModel and Preflight steps rely on.
func (c Catalog) ValidateBackendUsage(name string, model string, getenv func(string) string) error {
	backend, ok := c.Backend(name)
	if !ok {
		return fmt.Errorf("unsupported backend %q", name)
	}

	if strings.TrimSpace(model) != "" && !supportsModelPattern(backend.SupportedModels, model) {
		return fmt.Errorf("unsupported model %q for backend %q (supported: %s)", strings.TrimSpace(model), backend.Name, strings.Join(backend.SupportedModels, ", "))
	}

	if getenv == nil {
		getenv = os.Getenv
	}
	for _, envVar := range backend.RequiredCredentials {
		trimmedEnvVar := strings.TrimSpace(envVar)
		if trimmedEnvVar == "" {
			continue
		}
		if strings.TrimSpace(getenv(trimmedEnvVar)) == "" {
			return fmt.Errorf("missing auth token from %s for backend %q", trimmedEnvVar, backend.Name)
		}
	}
	return nil
}

func loadBuiltinBackends() ([]BackendDefinition, error) {
	entries, err := fs.ReadDir(builtinFS, builtinBackendDir)
	if err != nil {
		return nil, fmt.Errorf("read builtin backend definitions: %w", err)
	}
	out := make([]BackendDefinition, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		extension := strings.ToLower(filepath.Ext(entry.Name()))
		if extension != ".yaml" && extension != ".yml" {
			continue
		}
		payload, err := fs.ReadFile(builtinFS, filepath.ToSlash(filepath.Join(builtinBackendDir, entry.Name())))
		if err != nil {
			return nil, fmt.Errorf("read builtin backend definition %q: %w", entry.Name(), err)
		}
		definition, err := parseBackendDefinition(payload, extension)
		if err != nil {
			return nil, fmt.Errorf("parse builtin backend definition %q: %w", entry.Name(), err)
		}
		out = append(out, definition)
	}
	return out, nil
}

func parseBackendDefinition(payload []byte, extension string) (BackendDefinition, error) {
	definition := BackendDefinition{}
	content := strings.TrimSpace(string(payload))
	if content == "" {
		return BackendDefinition{}, fmt.Errorf("backend definition is empty")
	}
	switch strings.ToLower(strings.TrimSpace(extension)) {
	case ".json":
		if err := json.Unmarshal([]byte(content), &definition); err != nil {
			return BackendDefinition{}, err
		}
	default:
		if err := yaml.Unmarshal([]byte(content), &definition); err != nil {
			return BackendDefinition{}, err
		}
	}
	definition = normalizeBackendDefinition(definition)
	if err := validateBackendDefinition(definition); err != nil {
		return BackendDefinition{}, err
	}
	return definition, nil
}

func validateBackendDefinition(definition BackendDefinition) error {
	if definition.Name == "" {
		return fmt.Errorf("backend name is required")
	}
	if strings.TrimSpace(definition.Binary) == "" {
		return fmt.Errorf("backend %q requires a binary", definition.Name)
	}
	switch definition.StructuredOutputFormat {
	case "", "json", "jsonl":
	default:
		return fmt.Errorf("backend %q has unsupported structured_output_format %q", definition.Name, definition.StructuredOutputFormat)
	}
	for _, raw := range definition.SupportedModels {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if _, err := filepath.Match(trimmed, "sample-text"); err != nil {
			return fmt.Errorf("invalid supported model pattern %q", trimmed)
		}
	}
	return nil
}

func normalizeBackendDefinition(definition BackendDefinition) BackendDefinition {
	definition.Name = normalizeBackend(definition.Name)
	definition.Binary = strings.TrimSpace(definition.Binary)
	if strings.TrimSpace(definition.ModelFlag) == "" {
		definition.ModelFlag = "--model"
	}
	definition.DefaultFlags = normalizeStringSlice(definition.DefaultFlags)
	definition.BuildArgs = normalizeStringSlice(definition.BuildArgs)
	definition.RequiredCredentials = normalizeStringSlice(definition.RequiredCredentials)
	definition.SupportedModels = normalizeStringSlice(definition.SupportedModels)
	definition.DetectArgs = normalizeStringSlice(definition.DetectArgs)
	return definition
}

func supportsModelPattern(patterns []string, model string) bool {
	if len(patterns) == 0 {
		return true
	}
	trimmedModel := strings.TrimSpace(model)
	if trimmedModel == "" {
		return true
	}
	for _, pattern := range patterns {
		trimmedPattern := strings.TrimSpace(pattern)
		if trimmedPattern == "" {
			continue
		}
		matched, err := filepath.Match(trimmedPattern, trimmedModel)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func normalizeStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, raw := range values {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeBackend(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
