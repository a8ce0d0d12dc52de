// Package pipeline orchestrates one incremental build pass: scan the
// diagram roots, resolve include closures, decide staleness per themed
// variant, render stale jobs through the configured backend on a worker
// pool and write the results into the mirrored output tree.
//
// A pass never fails as a whole because one diagram does: per-diagram
// failures are collected into the report and the remaining jobs keep
// going. Only configuration and scan errors abort the pass.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/plantbuild/plantbuild/internal/config"
	"github.com/plantbuild/plantbuild/internal/errors"
	"github.com/plantbuild/plantbuild/internal/logging"
	"github.com/plantbuild/plantbuild/internal/output"
	"github.com/plantbuild/plantbuild/internal/renderer"
	"github.com/plantbuild/plantbuild/internal/resolver"
	"github.com/plantbuild/plantbuild/internal/scanner"
)

// Pipeline runs incremental builds over one configuration snapshot.
type Pipeline struct {
	cfg     *config.Config
	logger  logging.Logger
	workDir string
	backend renderer.Backend
	writer  *output.Writer
}

// New creates a pipeline, resolving the render backend once.
func New(cfg *config.Config, logger logging.Logger, workDir string) (*Pipeline, error) {
	backend, err := renderer.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:     cfg,
		logger:  logger.WithComponent("pipeline"),
		workDir: workDir,
		backend: backend,
		writer:  output.NewWriter(cfg.PrettifySVG),
	}, nil
}

// Failure records one diagram variant that could not be built.
type Failure struct {
	Path    string `json:"path" yaml:"path"`
	Variant string `json:"variant" yaml:"variant"`
	Message string `json:"message" yaml:"message"`
}

// Report summarizes one build pass.
type Report struct {
	Scanned  int           `json:"scanned" yaml:"scanned"`
	Stale    int           `json:"stale" yaml:"stale"`
	Rendered int           `json:"rendered" yaml:"rendered"`
	Skipped  int           `json:"skipped" yaml:"skipped"`
	Failures []Failure     `json:"failures,omitempty" yaml:"failures,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Failed reports whether any diagram variant failed during the pass.
func (r *Report) Failed() bool {
	return len(r.Failures) > 0
}

// renderTask pairs a render job with its destination path.
type renderTask struct {
	job renderer.Job
	out string
}

// taskResult is the outcome of one rendered-and-written task.
type taskResult struct {
	task renderTask
	err  error
}

// Run executes one full build pass over every discovered source.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	sources, err := scanner.New(p.cfg).Scan(p.workDir)
	if err != nil {
		return nil, err
	}

	return p.build(ctx, resolver.New(p.cfg), sources, len(sources))
}

// RunChanged executes an incremental pass restricted to the sources
// affected by the given changed paths. A source is affected when it was
// changed itself, when a changed path sits in its include closure or
// when a theme file of its root changed. Changes inside output folders
// are ignored so the pipeline's own writes never retrigger it.
func (p *Pipeline) RunChanged(ctx context.Context, changed []string) (*Report, error) {
	sources, err := scanner.New(p.cfg).Scan(p.workDir)
	if err != nil {
		return nil, err
	}

	res := resolver.New(p.cfg)
	affected := p.filterAffected(res, sources, changed)

	return p.build(ctx, res, affected, len(sources))
}

func (p *Pipeline) filterAffected(res *resolver.Resolver, sources []*scanner.DiagramSource, changed []string) []*scanner.DiagramSource {
	var relevant []string
	themedRoots := make(map[string]bool)

	for _, path := range changed {
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		if p.underOutputFolder(abs) {
			continue
		}
		if p.cfg.ThemeEnabled {
			if root, ok := p.underThemeFolder(abs); ok {
				themedRoots[root] = true
				continue
			}
		}
		relevant = append(relevant, abs)
	}

	var affected []*scanner.DiagramSource
	for _, src := range sources {
		if p.affects(res, src, relevant, themedRoots) {
			affected = append(affected, src)
		}
	}

	return affected
}

func (p *Pipeline) affects(res *resolver.Resolver, src *scanner.DiagramSource, changed []string, themedRoots map[string]bool) bool {
	if p.cfg.ThemeEnabled && themedRoots[src.Root] {
		return true
	}

	for _, path := range changed {
		if path == src.Path {
			return true
		}
	}

	if len(changed) == 0 {
		return false
	}

	closure, err := res.Closure(src.Path, src.Root)
	if err != nil {
		// Build it anyway so the failure surfaces in the report.
		return true
	}
	for _, path := range changed {
		if _, ok := closure[path]; ok {
			return true
		}
	}

	return false
}

// underOutputFolder reports whether a path sits below an output folder
// of any possible output layout.
func (p *Pipeline) underOutputFolder(path string) bool {
	sep := string(filepath.Separator)
	return strings.Contains(path, sep+p.cfg.OutputFolder+sep) ||
		strings.HasSuffix(path, sep+p.cfg.OutputFolder)
}

func (p *Pipeline) underThemeFolder(path string) (string, bool) {
	marker := string(filepath.Separator) + filepath.FromSlash(p.cfg.ThemeFolder) + string(filepath.Separator)
	idx := strings.Index(path, marker)
	if idx < 0 {
		return "", false
	}
	return path[:idx], true
}

func (p *Pipeline) build(ctx context.Context, res *resolver.Resolver, sources []*scanner.DiagramSource, scanned int) (*Report, error) {
	start := time.Now()
	report := &Report{Scanned: scanned}

	var tasks []renderTask
	for _, src := range sources {
		srcTasks, failures := p.plan(res, src)
		report.Failures = append(report.Failures, failures...)
		if len(failures) > 0 {
			report.Skipped++
			continue
		}
		tasks = append(tasks, srcTasks...)
	}
	report.Stale = len(tasks)

	if len(tasks) == 0 {
		report.Duration = time.Since(start)
		return report, nil
	}

	for result := range p.render(ctx, tasks) {
		if result.err != nil {
			p.logger.Error(ctx, result.err, "diagram build failed",
				"path", result.task.job.Source.Path,
				"variant", result.task.job.Variant.String())
			report.Failures = append(report.Failures, Failure{
				Path:    result.task.job.Source.Path,
				Variant: result.task.job.Variant.String(),
				Message: result.err.Error(),
			})
			continue
		}
		p.logger.Info(ctx, "diagram built",
			"path", result.task.job.Source.Path,
			"variant", result.task.job.Variant.String(),
			"output", result.task.out)
		report.Rendered++
	}

	report.Duration = time.Since(start)
	return report, nil
}

// plan computes the stale render tasks for one source. An include
// resolution failure poisons every variant of the source, so planning
// stops at the first failure.
func (p *Pipeline) plan(res *resolver.Resolver, src *scanner.DiagramSource) ([]renderTask, []Failure) {
	closure, err := res.Closure(src.Path, src.Root)
	if err != nil {
		return nil, []Failure{{Path: src.Path, Variant: "", Message: err.Error()}}
	}

	var tasks []renderTask
	for _, variant := range p.variants() {
		outPath := OutputPath(p.cfg, src, variant)
		deps := p.withThemeMtime(closure, src.Root, variant)
		if !IsStale(outPath, src.ModTime, deps) {
			continue
		}

		text, err := p.effectiveText(res, src, variant)
		if err != nil {
			return nil, []Failure{{Path: src.Path, Variant: variant.String(), Message: err.Error()}}
		}

		tasks = append(tasks, renderTask{
			job: renderer.Job{
				Source:  src,
				Variant: variant,
				Format:  p.cfg.OutputFormat,
				Text:    text,
			},
			out: outPath,
		})
	}

	return tasks, nil
}

func (p *Pipeline) variants() []renderer.Variant {
	if p.cfg.ThemeEnabled {
		return []renderer.Variant{renderer.VariantLight, renderer.VariantDark}
	}
	return []renderer.Variant{renderer.VariantDefault}
}

// withThemeMtime extends the include closure with the variant's theme
// file so theme edits make themed outputs stale. The closure itself is
// memoized and must not be mutated.
func (p *Pipeline) withThemeMtime(closure map[string]time.Time, root string, variant renderer.Variant) map[string]time.Time {
	if variant == renderer.VariantDefault {
		return closure
	}

	themePath := p.themePath(root, variant)
	info, err := os.Stat(themePath)
	if err != nil {
		return closure
	}

	deps := make(map[string]time.Time, len(closure)+1)
	for path, mod := range closure {
		deps[path] = mod
	}
	deps[themePath] = info.ModTime()
	return deps
}

func (p *Pipeline) themePath(root string, variant renderer.Variant) string {
	name := p.cfg.ThemeLight
	if variant.Dark() {
		name = p.cfg.ThemeDark
	}
	return filepath.Join(root, filepath.FromSlash(p.cfg.ThemeFolder), name)
}

// effectiveText produces the text a job ships to the backend. Themed
// variants get the theme include injected and are always merged, since
// the injected include cannot be resolved from the source's on-disk
// location. Un-themed jobs are merged only for backends that cannot
// read local files; otherwise the backend renders straight from disk.
func (p *Pipeline) effectiveText(res *resolver.Resolver, src *scanner.DiagramSource, variant renderer.Variant) (string, error) {
	themed := variant != renderer.VariantDefault

	if !themed {
		if !p.backend.RequiresMergedText() {
			return "", nil
		}
		return res.Merge(src.Path, src.Root, false)
	}

	data, err := os.ReadFile(src.Path)
	if err != nil {
		return "", errors.NewIncludeError(errors.ErrCodeIncludeNotFound, "reading source", err).WithPath(src.Path)
	}

	// The injected operand names the light theme; the dark merge
	// substitutes the dark file name like any other include operand.
	injected := resolver.InjectTheme(string(data), p.themePath(src.Root, renderer.VariantLight))

	merged, err := res.MergeText(injected, filepath.Dir(src.Path), src.Root, variant.Dark())
	if err != nil {
		if be, ok := err.(*errors.BuildError); ok && be.Path == "" {
			be.Path = src.Path
		}
		return "", err
	}

	return merged, nil
}

// render fans the tasks out over the worker pool and returns the result
// channel. Each job runs under its own timeout so one hung render never
// stalls the pass.
func (p *Pipeline) render(ctx context.Context, tasks []renderTask) <-chan taskResult {
	workers := p.cfg.Workers
	if workers > len(tasks) {
		workers = len(tasks)
	}

	queue := make(chan renderTask, len(tasks))
	results := make(chan taskResult, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				results <- taskResult{task: task, err: p.process(ctx, task)}
			}
		}()
	}

	for _, task := range tasks {
		queue <- task
	}
	close(queue)

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

func (p *Pipeline) process(ctx context.Context, task renderTask) error {
	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.RenderTimeout)
	defer cancel()

	result, err := p.backend.Render(jobCtx, task.job)
	if err != nil {
		return err
	}

	return p.writer.Write(task.out, result.Bytes, result.Format)
}
