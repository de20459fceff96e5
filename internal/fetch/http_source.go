package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"riffle/internal/artifact"
)

// HTTPSource fetches spills served by producers over plain HTTP GET.
// No shuffle-specific framing is involved; the URL path identifies the
// spill and the body is its bytes.
type HTTPSource struct {
	base   string
	client *http.Client
}

// NewHTTPSource serves spills from base, e.g.
// "http://producer:8042/spills". A nil client falls back to a default
// one; cancellation rides the request context either way.
func NewHTTPSource(base string, client *http.Client) (*HTTPSource, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return nil, fmt.Errorf("http source base URL is required")
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSource{base: base, client: client}, nil
}

// SpillPath is the URL path for a spill below the source base.
func SpillPath(o artifact.Origin) string {
	return o.String()
}

func (s *HTTPSource) url(req Request) string {
	if k := strings.TrimSpace(req.Key); k != "" {
		return s.base + "/" + strings.TrimLeft(k, "/")
	}
	return s.base + "/" + SpillPath(req.Origin)
}

// Open issues the GET and hands back the response body. 404 maps to
// ErrNoSuchSpill; any other non-200 status is an error.
func (s *HTTPSource) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	url := s.url(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build spill request %s: %w", url, err)
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("get spill %s: %w", url, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("spill %s: %w", url, ErrNoSuchSpill)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("get spill %s: unexpected status %s", url, resp.Status)
	}
}

// SpillSize resolves the spill length with a HEAD request.
func (s *HTTPSource) SpillSize(ctx context.Context, req Request) (int64, error) {
	url := s.url(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build spill head %s: %w", url, err)
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("head spill %s: %w", url, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, fmt.Errorf("spill %s: %w", url, ErrNoSuchSpill)
	case resp.StatusCode != http.StatusOK:
		return 0, fmt.Errorf("head spill %s: unexpected status %s", url, resp.Status)
	case resp.ContentLength < 0:
		return 0, fmt.Errorf("head spill %s: no content length", url)
	}
	return resp.ContentLength, nil
}
