// Package output writes rendered diagram artifacts to their mapped
// destination paths.
//
// Writes are all-or-nothing per file: content goes to a temporary file
// in the destination directory first and is renamed into place, so a
// failed job never leaves a partial artifact behind. Vector output can
// optionally be pretty-printed before writing.
package output

import (
	"bytes"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"

	"github.com/plantbuild/plantbuild/internal/errors"
)

// Writer persists render results.
type Writer struct {
	prettifySVG bool
}

// NewWriter creates a writer. With prettifySVG enabled, svg content is
// re-indented for readability before being written.
func NewWriter(prettifySVG bool) *Writer {
	return &Writer{prettifySVG: prettifySVG}
}

// Write stores data at dest, creating missing parent directories and
// overwriting any prior artifact. Failures are write errors scoped to
// the job.
func (w *Writer) Write(dest string, data []byte, format string) error {
	if w.prettifySVG && format == "svg" {
		data = PrettySVG(data)
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.ErrWriteFailed(dest, err)
	}

	tmp, err := os.CreateTemp(dir, ".plantbuild-*")
	if err != nil {
		return errors.ErrWriteFailed(dest, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.ErrWriteFailed(dest, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.ErrWriteFailed(dest, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return errors.ErrWriteFailed(dest, err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return errors.ErrWriteFailed(dest, err)
	}

	return nil
}

// PrettySVG re-indents XML content for readability. Malformed input is
// returned unchanged rather than failing the job, matching how the
// rendering side treats prettification as best effort.
//
// The decoder resolves namespace prefixes into full URIs and the
// encoder would re-declare xmlns on every element, so names are
// flattened back to their declared prefixes before re-encoding.
// Namespace declarations then pass through only where the input
// carried them.
func PrettySVG(data []byte) []byte {
	decoder := xml.NewDecoder(bytes.NewReader(data))

	var out bytes.Buffer
	encoder := xml.NewEncoder(&out)
	encoder.Indent("", "  ")

	prefixes := make(map[string]string)

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return data
		}

		switch tok := token.(type) {
		case xml.StartElement:
			attrs := make([]xml.Attr, 0, len(tok.Attr))
			for _, attr := range tok.Attr {
				switch {
				case attr.Name.Space == "xmlns":
					prefixes[attr.Value] = attr.Name.Local
					attrs = append(attrs, xml.Attr{
						Name:  xml.Name{Local: "xmlns:" + attr.Name.Local},
						Value: attr.Value,
					})
				case attr.Name.Space == "" && attr.Name.Local == "xmlns":
					attrs = append(attrs, attr)
				default:
					attrs = append(attrs, xml.Attr{
						Name:  flatName(attr.Name, prefixes),
						Value: attr.Value,
					})
				}
			}
			token = xml.StartElement{Name: flatName(tok.Name, prefixes), Attr: attrs}
		case xml.EndElement:
			token = xml.EndElement{Name: flatName(tok.Name, prefixes)}
		case xml.CharData:
			// Whitespace-only character data is re-created by the
			// indenting encoder.
			if len(bytes.TrimSpace(tok)) == 0 {
				continue
			}
		}

		if err := encoder.EncodeToken(token); err != nil {
			return data
		}
	}

	if err := encoder.Flush(); err != nil {
		return data
	}

	out.WriteByte('\n')
	return out.Bytes()
}

// flatName maps a namespace-resolved name back to its source form. The
// default namespace stays implicit; prefixed namespaces get their
// declared prefix back; anything undeclared loses its space rather
// than having the encoder invent declarations for it.
func flatName(name xml.Name, prefixes map[string]string) xml.Name {
	if name.Space == "" {
		return name
	}
	if prefix, ok := prefixes[name.Space]; ok {
		return xml.Name{Local: prefix + ":" + name.Local}
	}
	return xml.Name{Local: name.Local}
}
