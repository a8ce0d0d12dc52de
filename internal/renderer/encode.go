package renderer

import (
	"bytes"
	"compress/flate"
	"encoding/base64"

	"github.com/plantbuild/plantbuild/internal/errors"
)

// plantumlAlphabet is the base64 alphabet the PlantUML server expects
// in its text-encoding URLs: digits, uppercase, lowercase, then "-_".
const plantumlAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_"

var plantumlEncoding = base64.NewEncoding(plantumlAlphabet).WithPadding(base64.NoPadding)

// EncodeText compresses diagram text with raw DEFLATE and encodes it in
// the PlantUML base64 alphabet, producing the path segment the server
// decodes back into the diagram source.
func EncodeText(text string) (string, error) {
	var buf bytes.Buffer

	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return "", errors.NewInternalError(errors.ErrCodeInternalError, "creating deflate writer", err)
	}
	if _, err := w.Write([]byte(text)); err != nil {
		return "", errors.NewInternalError(errors.ErrCodeInternalError, "compressing diagram text", err)
	}
	if err := w.Close(); err != nil {
		return "", errors.NewInternalError(errors.ErrCodeInternalError, "compressing diagram text", err)
	}

	return plantumlEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeText reverses EncodeText. Used for diagnostics and tests.
func DecodeText(encoded string) (string, error) {
	compressed, err := plantumlEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.NewInternalError(errors.ErrCodeInternalError, "decoding diagram text", err)
	}

	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return "", errors.NewInternalError(errors.ErrCodeInternalError, "decompressing diagram text", err)
	}

	return out.String(), nil
}
