package agents

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// QAValidator checks the packaged .mcaddon archive: manifests must be
// valid JSON with UUIDs, and every pack needs at least one content file.
type QAValidator struct{}

func (v *QAValidator) Name() string { return "qa_validator" }

func (v *QAValidator) Execute(input map[string]any) (any, error) {
	workDir, err := stringInput(input, "work_dir")
	if err != nil {
		return nil, err
	}
	outputPath, err := stringInput(input, "output_path")
	if err != nil {
		return nil, err
	}

	var plan Plan
	if err := readArtifact(workDir, "plan.json", &plan); err != nil {
		return nil, err
	}
	if !strings.HasSuffix(outputPath, ".mcaddon") {
		outputPath = filepath.Join(outputPath, bedrockNamespace(plan.ModName)+".mcaddon")
	}

	reader, err := zip.OpenReader(outputPath)
	if err != nil {
		return nil, fmt.Errorf("open addon for validation: %w", err)
	}
	defer reader.Close()

	manifests := 0
	contentByPack := make(map[string]int)
	var issues []string
	for _, f := range reader.File {
		pack, rest, ok := strings.Cut(f.Name, "/")
		if !ok {
			continue
		}
		if path.Base(rest) == "manifest.json" {
			manifests++
			if _, seen := contentByPack[pack]; !seen {
				contentByPack[pack] = 0
			}
			if err := validateManifest(f); err != nil {
				issues = append(issues, fmt.Sprintf("%s: %v", f.Name, err))
			}
			continue
		}
		contentByPack[pack]++
	}

	if manifests == 0 {
		issues = append(issues, "no manifest.json in any pack")
	}
	for pack, n := range contentByPack {
		if n == 0 {
			issues = append(issues, fmt.Sprintf("pack %s has no content", pack))
		}
	}
	if len(contentByPack) == 0 {
		issues = append(issues, "addon contains no packs")
	}

	if len(issues) > 0 {
		return nil, fmt.Errorf("addon validation failed: %s", strings.Join(issues, "; "))
	}

	return map[string]any{
		"addon_path": outputPath,
		"manifests":  manifests,
		"packs":      len(contentByPack),
	}, nil
}

// validateManifest checks one pack manifest for structure and UUIDs.
func validateManifest(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	var manifest struct {
		FormatVersion int `json:"format_version"`
		Header        struct {
			UUID string `json:"uuid"`
			Name string `json:"name"`
		} `json:"header"`
		Modules []struct {
			UUID string `json:"uuid"`
			Type string `json:"type"`
		} `json:"modules"`
	}
	if err := json.NewDecoder(rc).Decode(&manifest); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}

	if manifest.FormatVersion != 2 {
		return fmt.Errorf("format_version %d, want 2", manifest.FormatVersion)
	}
	if manifest.Header.UUID == "" {
		return fmt.Errorf("missing header uuid")
	}
	if len(manifest.Modules) == 0 {
		return fmt.Errorf("no modules declared")
	}
	for _, m := range manifest.Modules {
		if m.UUID == "" {
			return fmt.Errorf("module %q missing uuid", m.Type)
		}
	}
	return nil
}
