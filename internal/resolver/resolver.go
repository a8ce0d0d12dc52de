// Package resolver parses PlantUML include directives and computes the
// file dependency graph of each diagram source.
//
// The resolver serves two consumers with one graph: the staleness check
// needs the transitive set of included files with their modification
// times, and the server render backend needs the includes textually
// merged into one self-contained diagram because the remote service
// cannot see the local filesystem. Both walks share the same directive
// grammar, resolution order and cycle guard, so they can never
// disagree about what a source depends on.
//
// Resolution order for a file operand: relative to the including
// file's directory first, then relative to the diagram root. A target
// already on the current resolution stack is a cycle and fails the
// source instead of looping. Per-file closures are memoized for the
// lifetime of one Resolver, which is one scan pass; the next pass
// builds a fresh Resolver rather than mutating the cache.
package resolver

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/plantbuild/plantbuild/internal/config"
	"github.com/plantbuild/plantbuild/internal/errors"
)

// Resolver computes include closures and merged source texts. Build it
// once per scan pass; the memoized closures are read-only afterwards,
// so concurrent render workers may share it.
type Resolver struct {
	cfg  *config.Config
	memo map[string]*closureEntry
}

type closureEntry struct {
	files map[string]time.Time
	err   error
}

// New creates a resolver for one scan pass.
func New(cfg *config.Config) *Resolver {
	return &Resolver{
		cfg:  cfg,
		memo: make(map[string]*closureEntry),
	}
}

// Closure returns the transitive include closure of the source file at
// path: every locally resolvable included file mapped to its
// modification time. The source itself is not part of its own closure;
// a cycle back to it fails with an include resolution error instead.
func (r *Resolver) Closure(path, rootDir string) (map[string]time.Time, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.NewIncludeError(errors.ErrCodeIncludeNotFound, "resolving source path", err).WithPath(path)
	}

	files, cerr := r.closureOf(abs, "", rootDir, map[string]bool{abs: true})
	if cerr != nil {
		if be, ok := cerr.(*errors.BuildError); ok && be.Path == "" {
			be.Path = path
		}
		return nil, cerr
	}

	return files, nil
}

// closureOf computes the memoized closure of one file, restricted to
// the named sub section when sub is non-empty. A file included by many
// sources is read and walked once per Resolver; only cycle stacks are
// per-call. Cycle errors are safe to memoize because every file on a
// cycle errors no matter where resolution entered it.
func (r *Resolver) closureOf(abs, sub, rootDir string, stack map[string]bool) (map[string]time.Time, error) {
	key := abs
	if sub != "" {
		key = abs + "!" + sub
	}
	if entry, ok := r.memo[key]; ok {
		return entry.files, entry.err
	}

	lines, err := readLines(abs)
	if err != nil {
		entry := &closureEntry{err: errors.NewIncludeError(errors.ErrCodeIncludeNotFound, "reading source", err).WithPath(abs)}
		r.memo[key] = entry
		return nil, entry.err
	}
	if sub != "" {
		lines = extractSub(lines, sub)
	}

	acc := make(map[string]time.Time)
	cerr := r.walk(lines, filepath.Dir(abs), rootDir, acc, stack)

	entry := &closureEntry{files: acc, err: cerr}
	if cerr != nil {
		entry.files = nil
	}
	r.memo[key] = entry

	return entry.files, entry.err
}

// walk scans one file's lines, accumulating each resolved include and
// its memoized closure into acc. stack holds every file on the current
// resolution path for cycle detection.
func (r *Resolver) walk(lines []string, dir, rootDir string, acc map[string]time.Time, stack map[string]bool) error {
	for _, line := range lines {
		directive, ok, err := ParseDirective(line)
		if err != nil {
			return err
		}
		if !ok || directive.PassThrough() {
			continue
		}

		target, found := r.resolve(directive.Target, dir, rootDir)
		if !found {
			return errors.ErrIncludeNotFound(directive.Target)
		}

		if stack[target] {
			return errors.ErrIncludeCycle(target)
		}

		info, err := os.Stat(target)
		if err != nil {
			return errors.ErrIncludeNotFound(directive.Target)
		}
		if prev, ok := acc[target]; !ok || info.ModTime().After(prev) {
			acc[target] = info.ModTime()
		}

		stack[target] = true
		inc, err := r.closureOf(target, directive.Sub, rootDir, stack)
		delete(stack, target)
		if err != nil {
			return err
		}
		for path, mod := range inc {
			if prev, ok := acc[path]; !ok || mod.After(prev) {
				acc[path] = mod
			}
		}
	}

	return nil
}

// resolve maps an include operand to an existing absolute file path.
// Absolute operands, such as injected theme includes, are taken as-is;
// relative ones are tried against the including file's directory first
// and the diagram root second.
func (r *Resolver) resolve(operand, dir, rootDir string) (string, bool) {
	operand = filepath.FromSlash(operand)

	if filepath.IsAbs(operand) {
		if fileExists(operand) {
			return operand, true
		}
		return "", false
	}

	candidate := filepath.Join(dir, operand)
	if fileExists(candidate) {
		return candidate, true
	}

	if rootDir != "" {
		candidate = filepath.Join(rootDir, operand)
		if fileExists(candidate) {
			return candidate, true
		}
	}

	return "", false
}

// extractSub returns the lines between `!startsub name` and the next
// `!endsub` (or `@enduml`). Multiple sections with the same name are
// concatenated.
func extractSub(lines []string, name string) []string {
	var section []string
	collecting := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "!startsub "+name:
			collecting = true
		case trimmed == "!endsub" || trimmed == "@enduml" || strings.HasPrefix(trimmed, "!startsub "):
			collecting = false
		case collecting:
			section = append(section, line)
		}
	}

	return section
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return splitLines(string(data)), nil
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	// Drop a trailing empty element from the final newline so merge
	// output does not accumulate blank lines.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	return lines
}
