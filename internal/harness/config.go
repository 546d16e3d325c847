// Package harness spawns an external coding-agent process per task,
// captures its raw stream output, and drives it through
// internal/extractor into a persisted, embedded iteration record (spec
// §2's "external LLM driver" data-flow paragraph). Adapted from the
// teacher's internal/aider package: the process-spawning and NATS-bridge
// shape survives, but the domain it serves is iteration-record capture
// instead of an Aider chat session.
package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the external agent CLI invocation, following
// internal/aider/config.go's AiderConfig/ToArgs shape.
type Config struct {
	Command     string   `yaml:"command" json:"command"`
	BaseArgs    []string `yaml:"base_args" json:"base_args"`
	Env         []string `yaml:"env" json:"env"`
	IdleTimeout int      `yaml:"idle_timeout" json:"idle_timeout"` // seconds, 0 = no timeout
}

// DefaultConfig returns sensible defaults for a stream-json-speaking
// coding-agent CLI driven in non-interactive, single-prompt mode.
func DefaultConfig() Config {
	return Config{
		Command:     "claude",
		BaseArgs:    []string{"--print", "--output-format", "stream-json"},
		IdleTimeout: 600,
	}
}

// ToArgs appends the per-iteration prompt to the configured base args,
// mirroring AiderConfig.ToArgs.
func (c Config) ToArgs(prompt string) []string {
	args := make([]string, len(c.BaseArgs), len(c.BaseArgs)+1)
	copy(args, c.BaseArgs)
	return append(args, prompt)
}

// LoadConfig loads a harness config from a YAML file, falling back to
// DefaultConfig when the file does not exist.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read harness config: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse harness config YAML: %w", err)
	}
	if config.Command == "" {
		return Config{}, fmt.Errorf("harness command is required")
	}
	return config, nil
}
