package renderer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/plantbuild/plantbuild/internal/config"
	"github.com/plantbuild/plantbuild/internal/errors"
	"github.com/plantbuild/plantbuild/internal/logging"
)

// LocalBackend renders diagrams by invoking the PlantUML executable as
// a subprocess. The renderer has filesystem access, so plain jobs pass
// the source file path and let PlantUML resolve includes natively;
// jobs carrying effective text (themed renders) go through a temporary
// file instead, keeping the on-disk source untouched.
type LocalBackend struct {
	binPath string
	logger  logging.Logger
}

// NewLocalBackend creates the local executable backend.
func NewLocalBackend(cfg *config.Config, logger logging.Logger) *LocalBackend {
	return &LocalBackend{
		binPath: cfg.BinPath,
		logger:  logger,
	}
}

// RequiresMergedText is false: the executable resolves includes itself.
func (b *LocalBackend) RequiresMergedText() bool {
	return false
}

// Render invokes the executable for one job and captures the produced
// file as bytes. A missing executable, non-zero exit or timeout is a
// render error scoped to the job.
func (b *LocalBackend) Render(ctx context.Context, job Job) (*Result, error) {
	command := strings.Fields(b.binPath)
	if len(command) == 0 {
		return nil, errors.NewRenderError(errors.ErrCodeRendererNotFound, "bin_path is empty", nil)
	}

	if _, err := exec.LookPath(command[0]); err != nil {
		return nil, errors.NewRenderError(
			errors.ErrCodeRendererNotFound,
			"renderer executable not found: "+command[0],
			err,
		).WithPath(job.Source.Path)
	}

	inputPath := job.Source.Path
	if job.Text != "" {
		tmp, err := os.CreateTemp("", "plantbuild-*.puml")
		if err != nil {
			return nil, errors.ErrRenderFailed("creating temp source", err).WithPath(job.Source.Path)
		}
		defer os.Remove(tmp.Name())

		if _, err := tmp.WriteString(job.Text); err != nil {
			tmp.Close()
			return nil, errors.ErrRenderFailed("writing temp source", err).WithPath(job.Source.Path)
		}
		if err := tmp.Close(); err != nil {
			return nil, errors.ErrRenderFailed("writing temp source", err).WithPath(job.Source.Path)
		}
		inputPath = tmp.Name()
	}

	outDir, err := os.MkdirTemp("", "plantbuild-out-")
	if err != nil {
		return nil, errors.ErrRenderFailed("creating temp output directory", err).WithPath(job.Source.Path)
	}
	defer os.RemoveAll(outDir)

	args := append(command[1:], "-t"+job.Format)
	if job.Variant.Dark() {
		args = append(args, "-darkmode")
	}
	args = append(args, "-o", outDir, inputPath)

	cmd := exec.CommandContext(ctx, command[0], args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewRenderError(
				errors.ErrCodeRenderTimeout,
				"renderer timed out",
				ctx.Err(),
			).WithPath(job.Source.Path)
		}
		return nil, errors.ErrRenderFailed(
			fmt.Sprintf("renderer exited with error, output: %s", strings.TrimSpace(string(output))),
			err,
		).WithPath(job.Source.Path)
	}

	data, err := readGeneratedFile(outDir)
	if err != nil {
		return nil, errors.ErrRenderFailed("reading renderer output", err).WithPath(job.Source.Path)
	}

	b.logger.Debug(ctx, "rendered locally",
		"source", job.Source.RelPath,
		"variant", job.Variant.String(),
		"bytes", len(data),
	)

	return &Result{Bytes: data, Format: job.Format}, nil
}

// readGeneratedFile returns the content of the file the renderer left
// in its output directory. PlantUML writes exactly one artifact per
// invocation; none at all means the render failed silently.
func readGeneratedFile(dir string) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		return os.ReadFile(filepath.Join(dir, entry.Name()))
	}

	return nil, fmt.Errorf("renderer produced no output file in %s", dir)
}
