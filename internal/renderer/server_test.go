package renderer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantbuild/plantbuild/internal/config"
	"github.com/plantbuild/plantbuild/internal/errors"
	"github.com/plantbuild/plantbuild/internal/logging"
	"github.com/plantbuild/plantbuild/internal/scanner"
)

func serverBackendFor(url string, insecure bool) *ServerBackend {
	return NewServerBackend(&config.Config{
		Server:               url,
		DisableSSLValidation: insecure,
	}, logging.NopLogger{})
}

func testJob(text string) Job {
	return Job{
		Source:  &scanner.DiagramSource{Path: "/tmp/a.puml", RelPath: "a.puml"},
		Variant: VariantDefault,
		Format:  "svg",
		Text:    text,
	}
}

func TestServerBackendRequestShape(t *testing.T) {
	text := "@startuml\nBob -> Alice\n@enduml\n"

	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("<svg/>"))
	}))
	defer ts.Close()

	backend := serverBackendFor(ts.URL, false)
	result, err := backend.Render(context.Background(), testJob(text))
	require.NoError(t, err)
	assert.Equal(t, []byte("<svg/>"), result.Bytes)
	assert.Equal(t, "svg", result.Format)

	// GET /<format>/<encoded text>
	require.True(t, strings.HasPrefix(gotPath, "/svg/"))
	decoded, err := DecodeText(strings.TrimPrefix(gotPath, "/svg/"))
	require.NoError(t, err)
	assert.Equal(t, text, decoded)
}

func TestServerBackendNonSuccessStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad diagram", http.StatusBadRequest)
	}))
	defer ts.Close()

	backend := serverBackendFor(ts.URL, false)
	_, err := backend.Render(context.Background(), testJob("@startuml\n@enduml\n"))
	require.Error(t, err)
	assert.True(t, errors.IsRenderError(err))
}

func TestServerBackendTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // immediately unreachable

	backend := serverBackendFor(ts.URL, false)
	_, err := backend.Render(context.Background(), testJob("x"))
	require.Error(t, err)
	assert.True(t, errors.IsRenderError(err))
}

func TestServerBackendTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	backend := serverBackendFor(ts.URL, false)
	_, err := backend.Render(ctx, testJob("x"))
	require.Error(t, err)
	assert.True(t, errors.IsRenderError(err))
	assert.ErrorIs(t, err, errors.NewRenderError(errors.ErrCodeRenderTimeout, "", nil))
}

func TestServerBackendTLSValidation(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	// Self-signed certificate: must fail with validation on.
	strict := serverBackendFor(ts.URL, false)
	_, err := strict.Render(context.Background(), testJob("x"))
	require.Error(t, err)

	// And succeed when validation is explicitly disabled.
	insecure := serverBackendFor(ts.URL, true)
	result, err := insecure.Render(context.Background(), testJob("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), result.Bytes)
}

func TestServerBackendRequiresMergedText(t *testing.T) {
	backend := serverBackendFor("http://localhost:9", false)
	assert.True(t, backend.RequiresMergedText())

	_, err := backend.Render(context.Background(), testJob(""))
	require.Error(t, err)
}
