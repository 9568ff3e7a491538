// Package agents implements the conversion pipeline's stage executors.
// Each agent takes the shared task input (mod path, work dir, output
// path), reads its upstream artifacts from the work dir, and writes its
// own artifacts back for downstream stages.
package agents

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modporter/modporter/internal/orchestration"
)

// Agent is one pipeline stage executor.
type Agent interface {
	// Name is the agent name tasks are routed by.
	Name() string
	// Execute runs the stage. The returned value becomes the task result.
	Execute(input map[string]any) (any, error)
}

// RegisterAll wires every given agent into the orchestrator.
func RegisterAll(o *orchestration.Orchestrator, agents ...Agent) {
	for _, a := range agents {
		agent := a
		o.RegisterAgent(agent.Name(), agent.Execute)
	}
}

// DefaultAgents returns the full conversion pipeline crew.
func DefaultAgents() []Agent {
	return []Agent{
		&JavaAnalyzer{},
		&ConversionPlanner{},
		&BehaviorTranslator{},
		&AssetConverter{},
		&AddonPackager{},
		&QAValidator{},
		&EntityConverter{},
	}
}

// stringInput pulls a required string field from the task input.
func stringInput(input map[string]any, key string) (string, error) {
	v, ok := input[key]
	if !ok {
		return "", fmt.Errorf("missing input %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("input %q must be a non-empty string", key)
	}
	return s, nil
}

// writeArtifact persists a stage artifact as indented JSON in the work dir.
func writeArtifact(workDir, name string, doc any) error {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(workDir, name), data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// readArtifact loads a stage artifact written by an upstream agent.
func readArtifact(workDir, name string, doc any) error {
	data, err := os.ReadFile(filepath.Join(workDir, name))
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}
