package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/plantbuild/plantbuild/internal/config"
	"github.com/plantbuild/plantbuild/internal/renderer"
	"github.com/plantbuild/plantbuild/internal/scanner"
)

// OutputDir returns the directory a source's rendered images are
// written to. The input folder hierarchy is mirrored below the output
// folder, or, with output_in_dir enabled, the output folder is placed
// inside the mirrored hierarchy instead.
func OutputDir(cfg *config.Config, src *scanner.DiagramSource) string {
	relDir := filepath.Dir(src.RelPath)
	if relDir == "." {
		relDir = ""
	}

	if cfg.OutputInDir {
		return filepath.Join(src.Root, relDir, cfg.OutputFolder)
	}
	return filepath.Join(src.Root, cfg.OutputFolder, relDir)
}

// OutputBase returns the output file name without extension. A name
// argument on the `@startuml` line overrides the source file's stem.
func OutputBase(src *scanner.DiagramSource) string {
	base := filepath.Base(src.RelPath)
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}

	data, err := os.ReadFile(src.Path)
	if err != nil {
		return base
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "@startuml") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			return fields[1]
		}
		break
	}

	return base
}

// OutputPath returns the full destination path for one variant of a
// source. The dark variant gets a distinguishing suffix so both themed
// renderings of a diagram can coexist.
func OutputPath(cfg *config.Config, src *scanner.DiagramSource, variant renderer.Variant) string {
	base := OutputBase(src)
	if variant.Dark() {
		base += "_dark"
	}
	return filepath.Join(OutputDir(cfg, src), base+"."+cfg.OutputFormat)
}

// IsStale reports whether the output at outPath must be re-rendered. An
// output is stale when it does not exist, when the source has been
// modified after it was written, or when any file in the include
// closure has.
func IsStale(outPath string, srcMod time.Time, closure map[string]time.Time) bool {
	info, err := os.Stat(outPath)
	if err != nil {
		return true
	}
	outMod := info.ModTime()

	if outMod.Before(srcMod) {
		return true
	}
	for _, incMod := range closure {
		if incMod.After(outMod) {
			return true
		}
	}

	return false
}
