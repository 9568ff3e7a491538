package agents

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
)

// complexEntitySizeThreshold marks entity classes big enough to need a
// dedicated conversion task.
const complexEntitySizeThreshold = 6 * 1024

// Analysis is the artifact the analyzer writes for downstream stages.
type Analysis struct {
	ModName         string   `json:"mod_name"`
	ModLoader       string   `json:"mod_loader"`
	ClassCount      int      `json:"class_count"`
	Entities        []string `json:"entities"`
	ComplexEntities []string `json:"complex_entities"`
	Textures        []string `json:"textures"`
	Models          []string `json:"models"`
	Sounds          []string `json:"sounds"`
	LangFiles       []string `json:"lang_files"`
	Recipes         int      `json:"recipes"`
}

// JavaAnalyzer inspects a Java mod jar: class inventory, entities,
// bundled assets, and mod metadata.
type JavaAnalyzer struct{}

func (a *JavaAnalyzer) Name() string { return "java_analyzer" }

func (a *JavaAnalyzer) Execute(input map[string]any) (any, error) {
	modPath, err := stringInput(input, "mod_path")
	if err != nil {
		return nil, err
	}
	workDir, err := stringInput(input, "work_dir")
	if err != nil {
		return nil, err
	}

	reader, err := zip.OpenReader(modPath)
	if err != nil {
		return nil, fmt.Errorf("open mod jar: %w", err)
	}
	defer reader.Close()

	analysis := Analysis{
		ModName:   strings.TrimSuffix(path.Base(modPath), path.Ext(modPath)),
		ModLoader: "unknown",
	}

	entitySizes := make(map[string]uint64)
	for _, f := range reader.File {
		name := f.Name
		switch {
		case strings.HasSuffix(name, ".class"):
			analysis.ClassCount++
			if entity := entityClassName(name); entity != "" {
				if _, seen := entitySizes[entity]; !seen {
					analysis.Entities = append(analysis.Entities, entity)
				}
				entitySizes[entity] += f.UncompressedSize64
			}
		case strings.HasSuffix(name, ".png") && strings.Contains(name, "textures/"):
			analysis.Textures = append(analysis.Textures, name)
		case strings.HasSuffix(name, ".json") && strings.Contains(name, "models/"):
			analysis.Models = append(analysis.Models, name)
		case strings.HasSuffix(name, ".ogg"):
			analysis.Sounds = append(analysis.Sounds, name)
		case strings.HasSuffix(name, ".json") && strings.Contains(name, "/lang/"):
			analysis.LangFiles = append(analysis.LangFiles, name)
		case strings.HasSuffix(name, ".json") && strings.Contains(name, "/recipes/"):
			analysis.Recipes++
		}

		switch path.Base(name) {
		case "fabric.mod.json":
			analysis.ModLoader = "fabric"
			if modName := readFabricModName(f); modName != "" {
				analysis.ModName = modName
			}
		case "mods.toml":
			analysis.ModLoader = "forge"
		case "mcmod.info":
			analysis.ModLoader = "forge-legacy"
		}
	}

	// Entities whose bytecode is heavy or that ship a custom model need
	// their own conversion pass.
	for _, entity := range analysis.Entities {
		if entitySizes[entity] >= complexEntitySizeThreshold || hasEntityModel(analysis.Models, entity) {
			analysis.ComplexEntities = append(analysis.ComplexEntities, entity)
		}
	}
	sort.Strings(analysis.ComplexEntities)

	if err := writeArtifact(workDir, "analysis.json", &analysis); err != nil {
		return nil, err
	}

	// The spawn callback reads complex_entities from this map.
	complexAny := make([]any, len(analysis.ComplexEntities))
	for i, e := range analysis.ComplexEntities {
		complexAny[i] = e
	}
	return map[string]any{
		"mod_name":         analysis.ModName,
		"mod_loader":       analysis.ModLoader,
		"class_count":      analysis.ClassCount,
		"entities":         len(analysis.Entities),
		"complex_entities": complexAny,
		"textures":         len(analysis.Textures),
		"models":           len(analysis.Models),
		"sounds":           len(analysis.Sounds),
		"recipes":          analysis.Recipes,
	}, nil
}

// entityClassName extracts an entity name from a class path like
// com/example/mod/entity/WyvernEntity.class. Returns "" for non-entity
// classes and inner classes.
func entityClassName(classPath string) string {
	if !strings.Contains(classPath, "/entity/") {
		return ""
	}
	base := strings.TrimSuffix(path.Base(classPath), ".class")
	if strings.Contains(base, "$") {
		base = base[:strings.Index(base, "$")]
	}
	base = strings.TrimSuffix(base, "Entity")
	if base == "" {
		return ""
	}
	return strings.ToLower(base)
}

// hasEntityModel reports whether the mod ships a model json for the entity.
func hasEntityModel(models []string, entity string) bool {
	for _, m := range models {
		if strings.Contains(strings.ToLower(m), "/entity/") &&
			strings.Contains(strings.ToLower(path.Base(m)), entity) {
			return true
		}
	}
	return false
}

// readFabricModName pulls the display name out of fabric.mod.json.
func readFabricModName(f *zip.File) string {
	rc, err := f.Open()
	if err != nil {
		return ""
	}
	defer rc.Close()

	var meta struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	}
	if err := json.NewDecoder(rc).Decode(&meta); err != nil {
		return ""
	}
	if meta.Name != "" {
		return meta.Name
	}
	return meta.ID
}
