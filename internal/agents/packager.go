package agents

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// AddonPackager zips the staged behavior and resource packs into a
// single .mcaddon archive at the configured output path.
type AddonPackager struct{}

func (p *AddonPackager) Name() string { return "addon_packager" }

func (p *AddonPackager) Execute(input map[string]any) (any, error) {
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
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("create addon archive: %w", err)
	}
	defer out.Close()

	w := zip.NewWriter(out)
	defer w.Close()

	var packed int
	packs := map[string]string{
		"behavior_pack": filepath.Join(workDir, "behavior_pack"),
		"resource_pack": filepath.Join(workDir, "resource_pack"),
	}
	for prefix, dir := range packs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		n, err := addDirToZip(w, dir, prefix)
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", prefix, err)
		}
		packed += n
	}
	if packed == 0 {
		return nil, fmt.Errorf("nothing to package: no staged packs in %s", workDir)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize addon archive: %w", err)
	}

	return map[string]any{
		"addon_path":   outputPath,
		"files_packed": packed,
	}, nil
}

// addDirToZip writes every file under dir into the archive below prefix.
func addDirToZip(w *zip.Writer, dir, prefix string) (int, error) {
	var count int
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		entry, err := w.Create(filepath.ToSlash(filepath.Join(prefix, rel)))
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		if _, err := io.Copy(entry, f); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}
