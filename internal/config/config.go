// Package config loads and validates the run configuration file (spec
// §6): `<cwd>/.ralph-tui/config.{toml,yaml,yml}`, recognized by the
// go-toml and yaml.v3 decoders the way the rest of the corpus reads
// its own config files, validated against an embedded JSON Schema the
// same way the teacher validates its agent-backend documents.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/ralphtui/ralph-tui/internal/conflict"
	"github.com/ralphtui/ralph-tui/internal/engine"
)

//go:embed schema.json
var schemaText string

// ErrorHandling mirrors the errorHandling.* config keys.
type ErrorHandling struct {
	Strategy              string `yaml:"strategy" toml:"strategy"`
	MaxRetries            int    `yaml:"maxRetries" toml:"maxRetries"`
	RetryDelayMs          int    `yaml:"retryDelayMs" toml:"retryDelayMs"`
	ContinueOnNonZeroExit bool   `yaml:"continueOnNonZeroExit" toml:"continueOnNonZeroExit"`
}

// ConflictResolution mirrors the conflictResolution.* config keys.
type ConflictResolution struct {
	Enabled             bool    `yaml:"enabled" toml:"enabled"`
	ConfidenceThreshold float64 `yaml:"confidenceThreshold" toml:"confidenceThreshold"`
	TimeoutMs           int     `yaml:"timeoutMs" toml:"timeoutMs"`
	MaxFiles            int     `yaml:"maxFiles" toml:"maxFiles"`
}

// AgentOptions mirrors the agentOptions.* config keys.
type AgentOptions struct {
	Model          string   `yaml:"model" toml:"model"`
	Timeout        int      `yaml:"timeout" toml:"timeout"`
	EnvExclude     []string `yaml:"envExclude" toml:"envExclude"`
	EnvPassthrough []string `yaml:"envPassthrough" toml:"envPassthrough"`
	DefaultFlags   []string `yaml:"defaultFlags" toml:"defaultFlags"`
}

// Sandbox mirrors the sandbox.* config keys.
type Sandbox struct {
	Enabled       bool     `yaml:"enabled" toml:"enabled"`
	Mode          string   `yaml:"mode" toml:"mode"`
	AllowPaths    []string `yaml:"allowPaths" toml:"allowPaths"`
	ReadOnlyPaths []string `yaml:"readOnlyPaths" toml:"readOnlyPaths"`
	Network       bool     `yaml:"network" toml:"network"`
}

// TrackerOptions mirrors the trackerOptions.* config keys.
type TrackerOptions struct {
	Path   string `yaml:"path" toml:"path"`
	EpicID string `yaml:"epicId" toml:"epicId"`
}

// Config is the fully decoded run configuration (spec §6).
type Config struct {
	ConfigVersion       int                 `yaml:"configVersion" toml:"configVersion"`
	Agent               string              `yaml:"agent" toml:"agent"`
	Command             string              `yaml:"command" toml:"command"`
	MaxIterations       int                 `yaml:"maxIterations" toml:"maxIterations"`
	IterationDelay      int                 `yaml:"iterationDelay" toml:"iterationDelay"`
	AutoCommit          bool                `yaml:"autoCommit" toml:"autoCommit"`
	Tracker             string              `yaml:"tracker" toml:"tracker"`
	TrackerOptions      TrackerOptions      `yaml:"trackerOptions" toml:"trackerOptions"`
	Parallel            int                 `yaml:"parallel" toml:"parallel"`
	Worktree            interface{}         `yaml:"worktree" toml:"worktree"`
	ErrorHandling       ErrorHandling       `yaml:"errorHandling" toml:"errorHandling"`
	ConflictResolution  ConflictResolution  `yaml:"conflictResolution" toml:"conflictResolution"`
	AgentOptions        AgentOptions        `yaml:"agentOptions" toml:"agentOptions"`
	Sandbox             Sandbox             `yaml:"sandbox" toml:"sandbox"`
}

// Defaults returns a Config carrying spec §6's documented defaults,
// used to seed unset fields after decode.
func Defaults() Config {
	return Config{
		ConfigVersion:  1,
		MaxIterations:  50,
		Parallel:       1,
		Tracker:        "json",
		ErrorHandling:  ErrorHandling{Strategy: "retry", MaxRetries: 3, RetryDelayMs: 2000},
		ConflictResolution: ConflictResolution{
			Enabled: true, TimeoutMs: 120000, MaxFiles: 10, ConfidenceThreshold: 0.7,
		},
	}
}

// FindPath returns the first of config.toml, config.yaml, config.yml
// that exists under <cwd>/.ralph-tui, or "" if none do.
func FindPath(cwd string) string {
	for _, ext := range []string{"toml", "yaml", "yml"} {
		candidate := filepath.Join(cwd, ".ralph-tui", "config."+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Load reads and validates the config file at path, returning
// Defaults() merged under whatever the file sets. An empty path
// (no config file present) returns Defaults() unmodified.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	decoded, err := decodeGeneric(path, data)
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := validate(decoded); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}

	if err := decodeInto(path, data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// decodeGeneric decodes the raw file into a schema.Validate-friendly
// value: yaml.v3 already produces map[string]interface{} for mapping
// nodes, matching how the teacher validates its own YAML fixtures.
func decodeGeneric(path string, data []byte) (interface{}, error) {
	var out interface{}
	var err error
	if isTOML(path) {
		err = toml.Unmarshal(data, &out)
	} else {
		err = yaml.Unmarshal(data, &out)
	}
	return out, err
}

func decodeInto(path string, data []byte, cfg *Config) error {
	if isTOML(path) {
		return toml.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func validate(decoded interface{}) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("ralph-tui-config-schema.json", strings.NewReader(schemaText)); err != nil {
		return fmt.Errorf("load config schema: %w", err)
	}
	schema, err := compiler.Compile("ralph-tui-config-schema.json")
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	return schema.Validate(decoded)
}

// WorktreeName reports the configured worktree name and whether
// worktree mode is active at all: `worktree: true` activates it with
// an auto-derived name, a string value both activates it and pins the
// name, anything else leaves it off.
func (c Config) WorktreeName() (name string, enabled bool) {
	switch v := c.Worktree.(type) {
	case bool:
		return "", v
	case string:
		return v, v != ""
	default:
		return "", false
	}
}

// ErrorHandlingPolicy maps the config's errorHandling block onto the
// engine's own policy type, keeping the config package as the only
// place that knows the file's JSON shape.
func (c Config) ErrorHandlingPolicy() engine.ErrorHandlingPolicy {
	strategy := engine.ErrorStrategy(c.ErrorHandling.Strategy)
	if strategy == "" {
		strategy = engine.StrategyRetry
	}
	return engine.ErrorHandlingPolicy{
		Strategy:              strategy,
		MaxRetries:            c.ErrorHandling.MaxRetries,
		RetryDelay:            time.Duration(c.ErrorHandling.RetryDelayMs) * time.Millisecond,
		ContinueOnNonZeroExit: c.ErrorHandling.ContinueOnNonZeroExit,
	}
}

// ConflictPolicy maps the config's conflictResolution block onto the
// conflict resolver's own policy type.
func (c Config) ConflictPolicy() conflict.Policy {
	return conflict.Policy{
		Enabled:             c.ConflictResolution.Enabled,
		Timeout:             time.Duration(c.ConflictResolution.TimeoutMs) * time.Millisecond,
		MaxFiles:            c.ConflictResolution.MaxFiles,
		ConfidenceThreshold: c.ConflictResolution.ConfidenceThreshold,
	}
}
