package resolver

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/plantbuild/plantbuild/internal/errors"
)

// Merge produces the effective, self-contained text of a diagram
// source: every locally resolvable include directive is replaced
// depth-first by the literal content of its target, so the result can
// be shipped to a rendering service that has no access to the local
// filesystem. URL and standard-library includes stay in place for the
// backend to handle.
//
// With dark enabled, the light theme file name is substituted by the
// dark one in every include operand before resolution, so a diagram
// that includes the light theme picks up its dark counterpart without
// the on-disk source changing.
func (r *Resolver) Merge(path, rootDir string, dark bool) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.NewIncludeError(errors.ErrCodeIncludeNotFound, "resolving source path", err).WithPath(path)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", errors.NewIncludeError(errors.ErrCodeIncludeNotFound, "reading source", err).WithPath(path)
	}

	merged, err := r.MergeText(string(data), filepath.Dir(abs), rootDir, dark)
	if err != nil {
		if be, ok := err.(*errors.BuildError); ok && be.Path == "" {
			be.Path = path
		}
		return "", err
	}

	return merged, nil
}

// MergeText merges an effective source text that is not (or no longer)
// on disk, such as a source with an injected theme include. dir is the
// directory relative includes resolve against.
func (r *Resolver) MergeText(text, dir, rootDir string, dark bool) (string, error) {
	lines := splitLines(text)

	var out strings.Builder
	stack := make(map[string]bool)
	if err := r.mergeLines(lines, dir, rootDir, dark, stack, &out); err != nil {
		return "", err
	}

	return out.String(), nil
}

func (r *Resolver) mergeLines(lines []string, dir, rootDir string, dark bool, stack map[string]bool, out *strings.Builder) error {
	for _, line := range lines {
		directive, ok, err := ParseDirective(line)
		if err != nil {
			return err
		}
		if !ok || directive.PassThrough() {
			out.WriteString(line)
			out.WriteString("\n")
			continue
		}

		operand := directive.Target
		if dark {
			operand = strings.ReplaceAll(operand, r.cfg.ThemeLight, r.cfg.ThemeDark)
		}

		target, found := r.resolve(operand, dir, rootDir)
		if !found {
			return errors.ErrIncludeNotFound(operand)
		}

		if stack[target] {
			return errors.ErrIncludeCycle(target)
		}

		incLines, err := readLines(target)
		if err != nil {
			return errors.ErrIncludeNotFound(operand)
		}
		if directive.Kind == KindIncludeSub {
			incLines = extractSub(incLines, directive.Sub)
		}

		stack[target] = true
		err = r.mergeLines(incLines, filepath.Dir(target), rootDir, dark, stack, out)
		delete(stack, target)
		if err != nil {
			return err
		}
	}

	return nil
}

// InjectTheme adds the theme include directive to an effective source
// text without mutating the on-disk file. The include lands directly
// after the `@startuml` line when one exists, else at the top, which is
// where the renderer accepts global style includes.
func InjectTheme(text, themeInclude string) string {
	directive := "!include " + themeInclude

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "@startuml") {
			injected := make([]string, 0, len(lines)+1)
			injected = append(injected, lines[:i+1]...)
			injected = append(injected, directive)
			injected = append(injected, lines[i+1:]...)
			return strings.Join(injected, "\n")
		}
	}

	return directive + "\n" + text
}
