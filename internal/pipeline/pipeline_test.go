package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantbuild/plantbuild/internal/config"
	"github.com/plantbuild/plantbuild/internal/logging"
	"github.com/plantbuild/plantbuild/internal/output"
	"github.com/plantbuild/plantbuild/internal/renderer"
	"github.com/plantbuild/plantbuild/internal/scanner"
)

// stubBackend records the jobs it receives and returns canned bytes.
type stubBackend struct {
	mu     sync.Mutex
	jobs   []renderer.Job
	merged bool
	block  bool
	fail   func(job renderer.Job) error
}

func (b *stubBackend) Render(ctx context.Context, job renderer.Job) (*renderer.Result, error) {
	b.mu.Lock()
	b.jobs = append(b.jobs, job)
	b.mu.Unlock()

	if b.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if b.fail != nil {
		if err := b.fail(job); err != nil {
			return nil, err
		}
	}

	return &renderer.Result{Bytes: []byte("img:" + job.Variant.String()), Format: job.Format}, nil
}

func (b *stubBackend) RequiresMergedText() bool {
	return b.merged
}

func (b *stubBackend) recorded() []renderer.Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	jobs := make([]renderer.Job, len(b.jobs))
	copy(jobs, b.jobs)
	return jobs
}

func testConfig() *config.Config {
	return &config.Config{
		Render:          config.RenderServer,
		Server:          "https://plantuml.invalid/plantuml",
		DiagramRoots:    []string{"docs/diagrams"},
		InputFolder:     "src",
		InputExtensions: []string{".puml"},
		OutputFormat:    "png",
		OutputFolder:    "out",
		ThemeFolder:     "include/themes",
		ThemeLight:      "light.puml",
		ThemeDark:       "dark.puml",
		Workers:         2,
		RenderTimeout:   5 * time.Second,
	}
}

func newTestPipeline(cfg *config.Config, workDir string, backend *stubBackend) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		logger:  logging.NopLogger{},
		workDir: workDir,
		backend: backend,
		writer:  output.NewWriter(cfg.PrettifySVG),
	}
}

func writeSource(t *testing.T, workDir, rel, content string) string {
	t.Helper()
	path := filepath.Join(workDir, "docs", "diagrams", "src", filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeTheme(t *testing.T, workDir, name, content string) string {
	t.Helper()
	path := filepath.Join(workDir, "docs", "diagrams", "include", "themes", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunRendersEverySourceOnFirstPass(t *testing.T) {
	workDir := t.TempDir()
	writeSource(t, workDir, "overview.puml", "@startuml\nA -> B\n@enduml\n")
	writeSource(t, workDir, "sub/detail.puml", "@startuml\nB -> C\n@enduml\n")

	backend := &stubBackend{}
	p := newTestPipeline(testConfig(), workDir, backend)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Stale)
	assert.Equal(t, 2, report.Rendered)
	assert.False(t, report.Failed())

	assert.FileExists(t, filepath.Join(workDir, "docs", "diagrams", "out", "overview.png"))
	assert.FileExists(t, filepath.Join(workDir, "docs", "diagrams", "out", "sub", "detail.png"))
}

func TestRunSecondPassRendersNothing(t *testing.T) {
	workDir := t.TempDir()
	writeSource(t, workDir, "overview.puml", "@startuml\nA -> B\n@enduml\n")

	backend := &stubBackend{}
	p := newTestPipeline(testConfig(), workDir, backend)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 0, report.Stale)
	assert.Equal(t, 0, report.Rendered)
	assert.Len(t, backend.recorded(), 1)
}

func TestRunRebuildsWhenIncludeChanges(t *testing.T) {
	workDir := t.TempDir()
	writeSource(t, workDir, "overview.puml", "@startuml\n!include common.puml\n@enduml\n")
	common := writeSource(t, workDir, "common.puml", "skinparam monochrome true\n")

	backend := &stubBackend{}
	p := newTestPipeline(testConfig(), workDir, backend)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(common, future, future))

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	// Both the includer and the include itself are stale.
	assert.Equal(t, 2, report.Rendered)
}

func TestRunStartTagNameOverridesOutputName(t *testing.T) {
	workDir := t.TempDir()
	writeSource(t, workDir, "overview.puml", "@startuml context-map\nA -> B\n@enduml\n")

	backend := &stubBackend{}
	p := newTestPipeline(testConfig(), workDir, backend)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Rendered)
	assert.FileExists(t, filepath.Join(workDir, "docs", "diagrams", "out", "context-map.png"))
	assert.NoFileExists(t, filepath.Join(workDir, "docs", "diagrams", "out", "overview.png"))
}

func TestRunOutputInDirPlacesOutputBesideSubtree(t *testing.T) {
	workDir := t.TempDir()
	writeSource(t, workDir, "sub/detail.puml", "@startuml\nB -> C\n@enduml\n")

	cfg := testConfig()
	cfg.OutputInDir = true
	backend := &stubBackend{}
	p := newTestPipeline(cfg, workDir, backend)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(workDir, "docs", "diagrams", "sub", "out", "detail.png"))
}

func TestRunThemeFanOut(t *testing.T) {
	workDir := t.TempDir()
	writeSource(t, workDir, "overview.puml", "@startuml\nA -> B\n@enduml\n")
	writeTheme(t, workDir, "light.puml", "skinparam backgroundColor white\n")
	writeTheme(t, workDir, "dark.puml", "skinparam backgroundColor black\n")

	cfg := testConfig()
	cfg.ThemeEnabled = true
	backend := &stubBackend{merged: true}
	p := newTestPipeline(cfg, workDir, backend)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Rendered)
	assert.FileExists(t, filepath.Join(workDir, "docs", "diagrams", "out", "overview.png"))
	assert.FileExists(t, filepath.Join(workDir, "docs", "diagrams", "out", "overview_dark.png"))

	jobs := backend.recorded()
	require.Len(t, jobs, 2)
	texts := map[string]string{}
	for _, job := range jobs {
		texts[job.Variant.String()] = job.Text
	}
	assert.Contains(t, texts["light"], "backgroundColor white")
	assert.Contains(t, texts["dark"], "backgroundColor black")
	assert.NotContains(t, texts["light"], "backgroundColor black")
}

func TestRunThemeEditMakesOutputsStale(t *testing.T) {
	workDir := t.TempDir()
	writeSource(t, workDir, "overview.puml", "@startuml\nA -> B\n@enduml\n")
	writeTheme(t, workDir, "light.puml", "skinparam shadowing false\n")
	dark := writeTheme(t, workDir, "dark.puml", "skinparam shadowing true\n")

	cfg := testConfig()
	cfg.ThemeEnabled = true
	backend := &stubBackend{merged: true}
	p := newTestPipeline(cfg, workDir, backend)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(dark, future, future))

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	// Only the dark variant depends on the dark theme file.
	assert.Equal(t, 1, report.Rendered)
	require.Len(t, backend.recorded(), 3)
	assert.Equal(t, renderer.VariantDark, backend.recorded()[2].Variant)
}

func TestRunCollectsFailuresAndKeepsGoing(t *testing.T) {
	workDir := t.TempDir()
	writeSource(t, workDir, "good.puml", "@startuml\nA -> B\n@enduml\n")
	writeSource(t, workDir, "broken.puml", "@startuml\n!include missing.puml\n@enduml\n")

	backend := &stubBackend{merged: true}
	p := newTestPipeline(testConfig(), workDir, backend)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Rendered)
	assert.Equal(t, 1, report.Skipped)
	assert.True(t, report.Failed())
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Path, "broken.puml")
	assert.Contains(t, report.Failures[0].Message, "missing.puml")
}

func TestRunRenderFailureScopedToJob(t *testing.T) {
	workDir := t.TempDir()
	writeSource(t, workDir, "a.puml", "@startuml\nA -> B\n@enduml\n")
	writeSource(t, workDir, "b.puml", "@startuml\nB -> C\n@enduml\n")

	backend := &stubBackend{fail: func(job renderer.Job) error {
		if strings.HasSuffix(job.Source.Path, "a.puml") {
			return assert.AnError
		}
		return nil
	}}
	p := newTestPipeline(testConfig(), workDir, backend)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Rendered)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Path, "a.puml")
}

func TestRunJobTimeout(t *testing.T) {
	workDir := t.TempDir()
	writeSource(t, workDir, "slow.puml", "@startuml\nA -> B\n@enduml\n")

	cfg := testConfig()
	cfg.RenderTimeout = 50 * time.Millisecond
	backend := &stubBackend{block: true}
	p := newTestPipeline(cfg, workDir, backend)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Rendered)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Message, "deadline")
}

func TestRunChangedRebuildsOnlyAffectedSources(t *testing.T) {
	workDir := t.TempDir()
	writeSource(t, workDir, "a.puml", "@startuml\nA -> B\n@enduml\n")
	writeSource(t, workDir, "b.puml", "@startuml\n!include shared.puml\n@enduml\n")
	shared := writeSource(t, workDir, "shared.puml", "skinparam monochrome true\n")

	backend := &stubBackend{}
	p := newTestPipeline(testConfig(), workDir, backend)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(shared, future, future))

	report, err := p.RunChanged(context.Background(), []string{shared})
	require.NoError(t, err)

	// shared.puml is itself a scanned source, so it and its includer
	// rebuild while a.puml stays untouched.
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Rendered)
	for _, job := range backend.recorded()[3:] {
		assert.NotContains(t, job.Source.Path, "a.puml")
	}
}

func TestRunChangedIgnoresOutputFolderPaths(t *testing.T) {
	workDir := t.TempDir()
	writeSource(t, workDir, "a.puml", "@startuml\nA -> B\n@enduml\n")

	backend := &stubBackend{}
	p := newTestPipeline(testConfig(), workDir, backend)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	out := filepath.Join(workDir, "docs", "diagrams", "out", "a.png")
	report, err := p.RunChanged(context.Background(), []string{out})
	require.NoError(t, err)

	assert.Equal(t, 0, report.Stale)
	assert.Equal(t, 0, report.Rendered)
}

func TestRunChangedThemeFileAffectsWholeRoot(t *testing.T) {
	workDir := t.TempDir()
	writeSource(t, workDir, "a.puml", "@startuml\nA -> B\n@enduml\n")
	writeSource(t, workDir, "b.puml", "@startuml\nB -> C\n@enduml\n")
	writeTheme(t, workDir, "light.puml", "skinparam shadowing false\n")
	dark := writeTheme(t, workDir, "dark.puml", "skinparam shadowing true\n")

	cfg := testConfig()
	cfg.ThemeEnabled = true
	backend := &stubBackend{merged: true}
	p := newTestPipeline(cfg, workDir, backend)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(dark, future, future))

	report, err := p.RunChanged(context.Background(), []string{dark})
	require.NoError(t, err)

	// Both sources are affected, each rebuilding its stale dark variant.
	assert.Equal(t, 2, report.Rendered)
}

func TestRunChangedThemeFolderIncludeWithThemesDisabled(t *testing.T) {
	workDir := t.TempDir()
	writeSource(t, workDir, "a.puml", "@startuml\n!include include/themes/custom.puml\n@enduml\n")
	custom := writeTheme(t, workDir, "custom.puml", "skinparam monochrome true\n")

	// Themes are off, so a file under the theme folder is an ordinary
	// include and staleness flows through the closure.
	backend := &stubBackend{}
	p := newTestPipeline(testConfig(), workDir, backend)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(custom, future, future))

	report, err := p.RunChanged(context.Background(), []string{custom})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Rendered)
	require.Len(t, backend.recorded(), 2)
	assert.Contains(t, backend.recorded()[1].Source.Path, "a.puml")
}

func TestOutputPathMapping(t *testing.T) {
	cfg := testConfig()
	src := &scanner.DiagramSource{
		Root:    filepath.Join("/work", "docs", "diagrams"),
		RelPath: filepath.Join("sub", "flow.puml"),
	}

	assert.Equal(t,
		filepath.Join("/work", "docs", "diagrams", "out", "sub", "flow.png"),
		OutputPath(cfg, src, renderer.VariantDefault))
	assert.Equal(t,
		filepath.Join("/work", "docs", "diagrams", "out", "sub", "flow_dark.png"),
		OutputPath(cfg, src, renderer.VariantDark))

	cfg.OutputInDir = true
	assert.Equal(t,
		filepath.Join("/work", "docs", "diagrams", "sub", "out", "flow.png"),
		OutputPath(cfg, src, renderer.VariantDefault))
}

func TestIsStale(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(out, []byte("img"), 0o644))

	info, err := os.Stat(out)
	require.NoError(t, err)
	outMod := info.ModTime()

	assert.True(t, IsStale(filepath.Join(dir, "missing.png"), outMod, nil))
	assert.False(t, IsStale(out, outMod.Add(-time.Minute), nil))
	assert.True(t, IsStale(out, outMod.Add(time.Minute), nil))
	assert.True(t, IsStale(out, outMod.Add(-time.Minute), map[string]time.Time{
		"inc.puml": outMod.Add(time.Minute),
	}))
	assert.False(t, IsStale(out, outMod.Add(-time.Minute), map[string]time.Time{
		"inc.puml": outMod.Add(-time.Minute),
	}))
}
