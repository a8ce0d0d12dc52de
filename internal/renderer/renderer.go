// Package renderer converts render jobs into image bytes through one of
// two interchangeable backends: a local PlantUML executable or a remote
// PlantUML server.
//
// The backend is selected once from the configuration snapshot, not
// re-checked per job. Both backends honor context cancellation, return
// the same Result shape and classify every failure as a render error
// scoped to the failing job, so callers stay backend-agnostic.
package renderer

import (
	"context"

	"github.com/plantbuild/plantbuild/internal/config"
	"github.com/plantbuild/plantbuild/internal/errors"
	"github.com/plantbuild/plantbuild/internal/logging"
	"github.com/plantbuild/plantbuild/internal/scanner"
)

// Variant identifies which themed rendering of a logical diagram a job
// produces.
type Variant int

const (
	// VariantDefault is the single un-themed rendering.
	VariantDefault Variant = iota
	// VariantLight is the light themed rendering.
	VariantLight
	// VariantDark is the dark themed rendering, written with a
	// distinguishing filename suffix.
	VariantDark
)

// String returns the string representation of the Variant.
func (v Variant) String() string {
	switch v {
	case VariantDefault:
		return "default"
	case VariantLight:
		return "light"
	case VariantDark:
		return "dark"
	default:
		return "unknown"
	}
}

// Dark reports whether the variant is the dark themed one.
func (v Variant) Dark() bool {
	return v == VariantDark
}

// Job is one render unit: a diagram source, the variant to produce and
// the desired output format. Text carries the effective source text
// (includes merged, theme include injected) and is required by the
// server backend; the local backend falls back to the on-disk file when
// Text is empty.
type Job struct {
	Source  *scanner.DiagramSource
	Variant Variant
	Format  string
	Text    string
}

// Result is the uniform outcome of a successful render.
type Result struct {
	Bytes  []byte
	Format string
}

// Backend renders jobs into image bytes.
type Backend interface {
	// Render converts one job. Failures are render errors scoped to
	// the job.
	Render(ctx context.Context, job Job) (*Result, error)
	// RequiresMergedText reports whether jobs must carry the fully
	// merged source text because the backend cannot read local files.
	RequiresMergedText() bool
}

// New resolves the configured backend variant once per build
// invocation.
func New(cfg *config.Config, logger logging.Logger) (Backend, error) {
	switch cfg.Render {
	case config.RenderLocal:
		return NewLocalBackend(cfg, logger.WithComponent("render-local")), nil
	case config.RenderServer:
		return NewServerBackend(cfg, logger.WithComponent("render-server")), nil
	default:
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "unknown render backend: "+cfg.Render)
	}
}
