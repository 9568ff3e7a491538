package agents

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// BehaviorTranslator renders Bedrock behavior-pack JSON for every
// behavior unit in the plan. Output goes under work_dir/behavior_pack.
type BehaviorTranslator struct{}

func (t *BehaviorTranslator) Name() string { return "behavior_translator" }

func (t *BehaviorTranslator) Execute(input map[string]any) (any, error) {
	workDir, err := stringInput(input, "work_dir")
	if err != nil {
		return nil, err
	}

	var plan Plan
	if err := readArtifact(workDir, "plan.json", &plan); err != nil {
		return nil, err
	}

	packDir := filepath.Join(workDir, "behavior_pack")
	entityDir := filepath.Join(packDir, "entities")
	if err := os.MkdirAll(entityDir, 0755); err != nil {
		return nil, fmt.Errorf("create behavior pack dir: %w", err)
	}

	namespace := bedrockNamespace(plan.ModName)
	var translated int
	for _, unit := range plan.BehaviorUnits {
		switch {
		case strings.HasPrefix(unit, "entity:"):
			entity := strings.TrimPrefix(unit, "entity:")
			doc := bedrockEntityBehavior(namespace, entity)
			name := entity + ".behavior.json"
			if err := writeArtifact(entityDir, name, doc); err != nil {
				return nil, err
			}
			translated++
		case strings.HasPrefix(unit, "recipes:"):
			// Recipes translate as one batch document.
			doc := map[string]any{
				"format_version": "1.20.0",
				"namespace":      namespace,
				"unit":           unit,
			}
			if err := writeArtifact(packDir, "recipes.json", doc); err != nil {
				return nil, err
			}
			translated++
		}
	}

	manifest := packManifest(plan.ModName+" Behaviors", "data")
	if err := writeArtifact(packDir, "manifest.json", manifest); err != nil {
		return nil, err
	}

	return map[string]any{
		"behavior_units": translated,
		"pack_dir":       packDir,
	}, nil
}

// bedrockNamespace derives a Bedrock identifier namespace from the mod name.
func bedrockNamespace(modName string) string {
	ns := strings.ToLower(modName)
	ns = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, ns)
	return strings.Trim(ns, "_")
}

// bedrockEntityBehavior renders the minimal behavior document for an entity.
func bedrockEntityBehavior(namespace, entity string) map[string]any {
	return map[string]any{
		"format_version": "1.20.0",
		"minecraft:entity": map[string]any{
			"description": map[string]any{
				"identifier":    namespace + ":" + entity,
				"is_spawnable":  true,
				"is_summonable": true,
			},
			"components": map[string]any{
				"minecraft:physics":         map[string]any{},
				"minecraft:pushable":        map[string]any{"is_pushable": true},
				"minecraft:health":          map[string]any{"value": 20, "max": 20},
				"minecraft:movement":        map[string]any{"value": 0.25},
				"minecraft:navigation.walk": map[string]any{"can_walk": true},
				"minecraft:movement.basic":  map[string]any{},
				"minecraft:jump.static":     map[string]any{},
				"minecraft:behavior.float":  map[string]any{"priority": 0},
				"minecraft:behavior.panic":  map[string]any{"priority": 1, "speed_multiplier": 1.25},
				"minecraft:behavior.look_at_player": map[string]any{
					"priority":      7,
					"look_distance": 6.0,
				},
			},
		},
	}
}

// packManifest builds a Bedrock pack manifest with fresh UUIDs.
func packManifest(name, moduleType string) map[string]any {
	return map[string]any{
		"format_version": 2,
		"header": map[string]any{
			"name":               name,
			"description":        "Converted by modporter",
			"uuid":               uuid.New().String(),
			"version":            []int{1, 0, 0},
			"min_engine_version": []int{1, 20, 0},
		},
		"modules": []map[string]any{
			{
				"type":    moduleType,
				"uuid":    uuid.New().String(),
				"version": []int{1, 0, 0},
			},
		},
	}
}
