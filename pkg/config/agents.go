package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-triage/pkg/domain"
)

// Well-known agent definition keys for the collaborators of the triage
// workflow. Worker definitions are keyed by the worker's agent name.
const (
	AgentPlanner   = "planner"
	AgentReviewer  = "reviewer"
	AgentClarifier = "clarifier"
)

// AgentDefinition is one agent file: the identity and system instructions of
// a model-backed collaborator.
type AgentDefinition struct {
	Name         string     `yaml:"name"`
	Description  string     `yaml:"description"`
	Instructions string     `yaml:"instructions"`
	Model        AgentModel `yaml:"model"`
}

// AgentModel optionally pins the model an agent runs on.
type AgentModel struct {
	APIVersion string `yaml:"api_version"`
	ModelID    string `yaml:"model_id"`
}

// Validate checks the required fields of a definition.
func (d AgentDefinition) Validate() error {
	var missing []string
	if strings.TrimSpace(d.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(d.Description) == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(d.Instructions) == "" {
		missing = append(missing, "instructions")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// LoadAgentDefinition reads and validates a single agent file.
func LoadAgentDefinition(path string) (AgentDefinition, error) {
	var def AgentDefinition
	//nolint:gosec // Agent paths come from the operator's config
	data, err := os.ReadFile(path)
	if err != nil {
		return def, fmt.Errorf("failed to read agent file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &def); err != nil {
		return def, fmt.Errorf("%w: failed to parse agent file %s: %v", domain.ErrConfigInvalid, path, err)
	}
	if err := def.Validate(); err != nil {
		return def, fmt.Errorf("%w: agent file %s: %v", domain.ErrConfigInvalid, path, err)
	}
	return def, nil
}

// Agents is the set of definitions loaded from an agents directory, keyed by
// file name without extension.
type Agents map[string]AgentDefinition

// LoadAgents reads every .yaml and .yml file directly under dir.
func LoadAgents(dir string) (Agents, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents dir %s: %w", dir, err)
	}

	agents := make(Agents)
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !isAgentFile(entry.Name()) {
			continue
		}
		def, err := LoadAgentDefinition(filepath.Join(dir, entry.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		agents[agentKey(entry.Name())] = def
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return agents, nil
}

// Get returns the definition for key.
func (a Agents) Get(key string) (AgentDefinition, error) {
	def, ok := a[key]
	if !ok {
		return AgentDefinition{}, fmt.Errorf("%w: no agent definition %q", domain.ErrConfigInvalid, key)
	}
	return def, nil
}

// Keys returns the loaded keys in sorted order.
func (a Agents) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Require checks that every key has a definition.
func (a Agents) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if _, ok := a[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing agent definitions: %s", domain.ErrConfigInvalid, strings.Join(missing, ", "))
	}
	return nil
}

func isAgentFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func agentKey(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
