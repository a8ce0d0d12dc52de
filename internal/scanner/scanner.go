// Package scanner provides diagram source discovery for plantbuild.
//
// The scanner walks the input folder of each configured diagram root,
// filters files by the configured extension allow-list and produces the
// candidate sources for one pipeline run together with the metadata the
// staleness check needs. Traversal is read-only and lexically ordered,
// so repeated scans over an unchanged tree yield identical results.
package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/plantbuild/plantbuild/internal/config"
	"github.com/plantbuild/plantbuild/internal/errors"
)

// DiagramSource describes one discovered diagram source file. It is
// owned by the scan result of a single run and immutable afterwards.
type DiagramSource struct {
	// Path is the absolute path of the source file.
	Path string
	// Root is the absolute path of the diagram root the source
	// belongs to.
	Root string
	// RelPath is the path relative to the root's input folder, used
	// for output mapping.
	RelPath string
	// ModTime is the source file's modification time at scan time.
	ModTime time.Time
}

// Scanner discovers diagram sources under the configured roots.
type Scanner struct {
	cfg *config.Config
}

// New creates a scanner for one configuration snapshot.
func New(cfg *config.Config) *Scanner {
	return &Scanner{cfg: cfg}
}

// Roots resolves the effective set of diagram roots as absolute paths.
// With allow_multiple_roots enabled, the working tree is searched for
// every directory whose path ends with a configured root, so nested
// documentation trees each get their own root. A configured root that
// does not exist is a configuration error.
func (s *Scanner) Roots(workDir string) ([]string, error) {
	var roots []string

	if s.cfg.AllowMultipleRoots {
		discovered, err := discoverRoots(workDir, s.cfg.DiagramRoots)
		if err != nil {
			return nil, err
		}
		roots = discovered
	} else {
		for _, root := range s.cfg.DiagramRoots {
			roots = append(roots, filepath.Join(workDir, root))
		}
	}

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			return nil, errors.ErrRootNotFound(root)
		}
	}

	return roots, nil
}

// discoverRoots walks workDir collecting directories whose path ends
// with one of the configured root suffixes.
func discoverRoots(workDir string, suffixes []string) ([]string, error) {
	var roots []string

	err := filepath.WalkDir(workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() != "" && strings.HasPrefix(d.Name(), ".") && path != workDir {
			return filepath.SkipDir
		}
		for _, suffix := range suffixes {
			if strings.HasSuffix(path, filepath.FromSlash(suffix)) {
				roots = append(roots, path)
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeRootNotFound, "searching for diagram roots under "+workDir)
	}

	if len(roots) == 0 {
		return nil, errors.ErrRootNotFound(strings.Join(suffixes, ", "))
	}

	return roots, nil
}

// Scan walks the input folder of every root and returns the candidate
// diagram sources in deterministic traversal order.
func (s *Scanner) Scan(workDir string) ([]*DiagramSource, error) {
	roots, err := s.Roots(workDir)
	if err != nil {
		return nil, err
	}

	var sources []*DiagramSource

	for _, root := range roots {
		srcDir := filepath.Join(root, s.cfg.InputFolder)

		info, err := os.Stat(srcDir)
		if err != nil || !info.IsDir() {
			return nil, errors.ErrRootNotFound(srcDir)
		}

		err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != srcDir {
					return filepath.SkipDir
				}
				return nil
			}
			if !s.cfg.MatchesExtension(d.Name()) {
				return nil
			}

			fi, err := d.Info()
			if err != nil {
				return err
			}

			rel, err := filepath.Rel(srcDir, path)
			if err != nil {
				return err
			}

			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}

			absRoot, err := filepath.Abs(root)
			if err != nil {
				return err
			}

			sources = append(sources, &DiagramSource{
				Path:    abs,
				Root:    absRoot,
				RelPath: rel,
				ModTime: fi.ModTime(),
			})
			return nil
		})
		if err != nil {
			return nil, errors.NewInternalError(errors.ErrCodeInternalError, "walking "+srcDir, err)
		}
	}

	return sources, nil
}
