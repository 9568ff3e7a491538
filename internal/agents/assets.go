package agents

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// AssetConverter stages the mod's visual and audio assets into a Bedrock
// resource pack layout under work_dir/resource_pack.
type AssetConverter struct{}

func (c *AssetConverter) Name() string { return "asset_converter" }

func (c *AssetConverter) Execute(input map[string]any) (any, error) {
	modPath, err := stringInput(input, "mod_path")
	if err != nil {
		return nil, err
	}
	workDir, err := stringInput(input, "work_dir")
	if err != nil {
		return nil, err
	}

	var plan Plan
	if err := readArtifact(workDir, "plan.json", &plan); err != nil {
		return nil, err
	}

	packDir := filepath.Join(workDir, "resource_pack")
	if err := os.MkdirAll(packDir, 0755); err != nil {
		return nil, fmt.Errorf("create resource pack dir: %w", err)
	}

	reader, err := zip.OpenReader(modPath)
	if err != nil {
		return nil, fmt.Errorf("open mod jar: %w", err)
	}
	defer reader.Close()

	// Index the jar so plan units can be located without rescanning.
	byName := make(map[string]*zip.File, len(reader.File))
	for _, f := range reader.File {
		byName[f.Name] = f
	}

	var copied, skipped int
	for _, unit := range plan.AssetUnits {
		kind, src, ok := strings.Cut(unit, ":")
		if !ok {
			skipped++
			continue
		}
		f := byName[src]
		if f == nil {
			skipped++
			continue
		}

		dest := bedrockAssetPath(kind, src)
		if dest == "" {
			skipped++
			continue
		}
		if err := extractFile(f, filepath.Join(packDir, dest)); err != nil {
			return nil, fmt.Errorf("stage asset %s: %w", src, err)
		}
		copied++
	}

	manifest := packManifest(plan.ModName+" Resources", "resources")
	if err := writeArtifact(packDir, "manifest.json", manifest); err != nil {
		return nil, err
	}

	return map[string]any{
		"assets_staged":  copied,
		"assets_skipped": skipped,
		"pack_dir":       packDir,
	}, nil
}

// bedrockAssetPath maps a Java asset path to its resource-pack location.
// Unknown kinds map to "".
func bedrockAssetPath(kind, src string) string {
	base := filepath.Base(src)
	switch kind {
	case "texture":
		if strings.Contains(src, "textures/entity/") {
			return filepath.Join("textures", "entity", base)
		}
		if strings.Contains(src, "textures/item") {
			return filepath.Join("textures", "items", base)
		}
		if strings.Contains(src, "textures/block") {
			return filepath.Join("textures", "blocks", base)
		}
		return filepath.Join("textures", base)
	case "model":
		return filepath.Join("models", "entity", base)
	case "sound":
		return filepath.Join("sounds", base)
	case "lang":
		// Bedrock wants .lang, but staging keeps the source json for the
		// packager to finish.
		return filepath.Join("texts", base)
	default:
		return ""
	}
}

// extractFile copies one jar entry to dest, creating parent directories.
func extractFile(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}
