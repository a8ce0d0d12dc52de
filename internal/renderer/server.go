package renderer

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/plantbuild/plantbuild/internal/config"
	"github.com/plantbuild/plantbuild/internal/errors"
	"github.com/plantbuild/plantbuild/internal/logging"
)

// ServerBackend renders diagrams through a remote PlantUML server. The
// server has no access to the local filesystem, so every job must carry
// the fully merged source text; the backend encodes it into the
// request URL and takes the response body as the rendered image.
type ServerBackend struct {
	baseURL string
	client  *http.Client
	logger  logging.Logger
}

// NewServerBackend creates the remote server backend. TLS certificate
// validation is applied unless explicitly disabled in configuration.
func NewServerBackend(cfg *config.Config, logger logging.Logger) *ServerBackend {
	transport := http.DefaultTransport
	if cfg.DisableSSLValidation {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		transport = t
	}

	return &ServerBackend{
		baseURL: strings.TrimRight(cfg.Server, "/"),
		client:  &http.Client{Transport: transport},
		logger:  logger,
	}
}

// RequiresMergedText is true: the remote side cannot resolve local
// includes.
func (b *ServerBackend) RequiresMergedText() bool {
	return true
}

// Render sends one encoded diagram to the server and returns the
// response body as image bytes. Transport failures, timeouts and
// non-2xx statuses are render errors scoped to the job; there is no
// automatic retry.
func (b *ServerBackend) Render(ctx context.Context, job Job) (*Result, error) {
	if job.Text == "" {
		return nil, errors.NewInternalError(
			errors.ErrCodeInternalError,
			"server render job without merged text",
			nil,
		).WithPath(job.Source.Path)
	}

	encoded, err := EncodeText(job.Text)
	if err != nil {
		return nil, errors.ErrRenderFailed("encoding diagram text", err).WithPath(job.Source.Path)
	}

	url := fmt.Sprintf("%s/%s/%s", b.baseURL, job.Format, encoded)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.ErrRenderFailed("building server request", err).WithPath(job.Source.Path)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewRenderError(
				errors.ErrCodeRenderTimeout,
				"server request timed out",
				ctx.Err(),
			).WithPath(job.Source.Path)
		}
		return nil, errors.ErrRenderFailed("server request failed", err).WithPath(job.Source.Path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewRenderError(
			errors.ErrCodeServerStatus,
			fmt.Sprintf("server returned status %d", resp.StatusCode),
			nil,
		).WithPath(job.Source.Path)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ErrRenderFailed("reading server response", err).WithPath(job.Source.Path)
	}

	b.logger.Debug(ctx, "rendered remotely",
		"source", job.Source.RelPath,
		"variant", job.Variant.String(),
		"bytes", len(data),
	)

	return &Result{Bytes: data, Format: job.Format}, nil
}
