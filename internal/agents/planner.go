package agents

import (
	"fmt"
)

// Plan is the artifact the planner writes for the translate and asset
// stages.
type Plan struct {
	ModName        string   `json:"mod_name"`
	BehaviorUnits  []string `json:"behavior_units"`
	AssetUnits     []string `json:"asset_units"`
	EntityMappings []string `json:"entity_mappings"`
	// Warnings lists Java features that have no Bedrock equivalent and
	// will be dropped or approximated.
	Warnings []string `json:"warnings,omitempty"`
}

// ConversionPlanner turns the analyzer's inventory into concrete
// translation work units.
type ConversionPlanner struct{}

func (p *ConversionPlanner) Name() string { return "conversion_planner" }

func (p *ConversionPlanner) Execute(input map[string]any) (any, error) {
	workDir, err := stringInput(input, "work_dir")
	if err != nil {
		return nil, err
	}

	var analysis Analysis
	if err := readArtifact(workDir, "analysis.json", &analysis); err != nil {
		return nil, err
	}

	plan := Plan{ModName: analysis.ModName}

	for _, entity := range analysis.Entities {
		plan.BehaviorUnits = append(plan.BehaviorUnits, "entity:"+entity)
		plan.EntityMappings = append(plan.EntityMappings, entity)
	}
	if analysis.Recipes > 0 {
		plan.BehaviorUnits = append(plan.BehaviorUnits, fmt.Sprintf("recipes:%d", analysis.Recipes))
	}
	for _, t := range analysis.Textures {
		plan.AssetUnits = append(plan.AssetUnits, "texture:"+t)
	}
	for _, m := range analysis.Models {
		plan.AssetUnits = append(plan.AssetUnits, "model:"+m)
	}
	for _, s := range analysis.Sounds {
		plan.AssetUnits = append(plan.AssetUnits, "sound:"+s)
	}
	for _, l := range analysis.LangFiles {
		plan.AssetUnits = append(plan.AssetUnits, "lang:"+l)
	}

	if analysis.ModLoader == "forge-legacy" {
		plan.Warnings = append(plan.Warnings, "legacy forge mod: coremod hooks are not convertible")
	}
	if len(plan.BehaviorUnits) == 0 && len(plan.AssetUnits) == 0 {
		return nil, fmt.Errorf("mod %s has no convertible content", analysis.ModName)
	}

	if err := writeArtifact(workDir, "plan.json", &plan); err != nil {
		return nil, err
	}

	return map[string]any{
		"mod_name":       plan.ModName,
		"behavior_units": len(plan.BehaviorUnits),
		"asset_units":    len(plan.AssetUnits),
		"warnings":       len(plan.Warnings),
	}, nil
}
