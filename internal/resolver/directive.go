package resolver

import (
	"strings"

	"github.com/plantbuild/plantbuild/internal/errors"
)

// DirectiveKind distinguishes the supported include directive forms.
type DirectiveKind int

const (
	// KindInclude is a plain `!include <path>` directive.
	KindInclude DirectiveKind = iota
	// KindIncludeSub is `!includesub <path>!<name>`, incorporating
	// only the named `!startsub`/`!endsub` section of the target.
	KindIncludeSub
	// KindIncludeURL is `!includeurl <url>`, always passed through to
	// the backend untouched.
	KindIncludeURL
)

// Directive is one parsed include line of a diagram source.
type Directive struct {
	Kind DirectiveKind
	// Target is the include operand: a file path, a URL, or a
	// standard-library reference.
	Target string
	// Sub is the section name for KindIncludeSub.
	Sub string
	// Raw is the original line, preserved for pass-through.
	Raw string
}

// ParseDirective parses a source line. The second return value is false
// when the line is not an include directive at all. A malformed
// directive (currently only `!includesub` without a section name)
// returns an include resolution error.
func ParseDirective(line string) (*Directive, bool, error) {
	trimmed := strings.TrimSpace(line)

	switch {
	case strings.HasPrefix(trimmed, "!includeurl "):
		return &Directive{
			Kind:   KindIncludeURL,
			Target: strings.TrimSpace(trimmed[len("!includeurl "):]),
			Raw:    line,
		}, true, nil

	case strings.HasPrefix(trimmed, "!includesub "):
		operand := strings.TrimSpace(trimmed[len("!includesub "):])
		parts := strings.Split(operand, "!")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, true, errors.NewIncludeError(
				errors.ErrCodeIncludeSyntax,
				"invalid !includesub syntax, expected <filepath>!<sub_name>: "+trimmed,
				nil,
			)
		}
		return &Directive{
			Kind:   KindIncludeSub,
			Target: parts[0],
			Sub:    parts[1],
			Raw:    line,
		}, true, nil

	case strings.HasPrefix(trimmed, "!include "):
		return &Directive{
			Kind:   KindInclude,
			Target: strings.TrimSpace(trimmed[len("!include "):]),
			Raw:    line,
		}, true, nil
	}

	return nil, false, nil
}

// PassThrough reports whether the directive references a remote or
// renderer-bundled target that never resolves to a local file: URLs and
// `<...>` standard-library includes. These are handed to the backend
// verbatim and excluded from the dependency closure.
func (d *Directive) PassThrough() bool {
	if d.Kind == KindIncludeURL {
		return true
	}
	return strings.HasPrefix(d.Target, "http") || strings.HasPrefix(d.Target, "<")
}
