package agents

import (
	"fmt"
	"path/filepath"
)

// EntityConverter handles one complex entity spawned out of the main
// pipeline: it writes a dedicated behavior document plus client-side
// render wiring for the entity named in the task input.
type EntityConverter struct{}

func (c *EntityConverter) Name() string { return "entity_converter" }

func (c *EntityConverter) Execute(input map[string]any) (any, error) {
	workDir, err := stringInput(input, "work_dir")
	if err != nil {
		return nil, err
	}
	entity, err := stringInput(input, "entity")
	if err != nil {
		return nil, err
	}

	var analysis Analysis
	if err := readArtifact(workDir, "analysis.json", &analysis); err != nil {
		return nil, err
	}
	namespace := bedrockNamespace(analysis.ModName)

	behaviorDir := filepath.Join(workDir, "behavior_pack", "entities")
	doc := bedrockEntityBehavior(namespace, entity)
	if err := writeArtifact(behaviorDir, entity+".behavior.json", doc); err != nil {
		return nil, err
	}

	clientDir := filepath.Join(workDir, "resource_pack", "entity")
	client := map[string]any{
		"format_version": "1.10.0",
		"minecraft:client_entity": map[string]any{
			"description": map[string]any{
				"identifier": namespace + ":" + entity,
				"textures": map[string]any{
					"default": "textures/entity/" + entity,
				},
				"geometry": map[string]any{
					"default": "geometry." + entity,
				},
				"render_controllers": []string{"controller.render.default"},
			},
		},
	}
	if err := writeArtifact(clientDir, entity+".entity.json", client); err != nil {
		return nil, err
	}

	return map[string]any{
		"entity":     entity,
		"identifier": fmt.Sprintf("%s:%s", namespace, entity),
	}, nil
}
