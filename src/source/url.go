package source

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sofmeright/freightqueue/src/build"
)

func init() {
	Register("url", func() Provider { return &urlProvider{client: http.DefaultClient} })
}

// urlProvider fetches a prebuilt tar (optionally gzipped) build context.
type urlProvider struct {
	client *http.Client
}

func (p *urlProvider) Name() string { return "url" }

func (p *urlProvider) Open(ctx context.Context, opts build.Options) (io.ReadCloser, error) {
	if opts.Source == "" {
		return nil, fmt.Errorf("source: url: source URL is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.Source, nil)
	if err != nil {
		return nil, fmt.Errorf("source: url: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: url: fetching %s: %w", opts.Source, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("source: url: fetching %s: HTTP %d", opts.Source, resp.StatusCode)
	}

	if !isGzip(opts.Source, resp.Header.Get("Content-Type")) {
		return resp.Body, nil
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("source: url: %w", err)
	}
	return &gzipBody{Reader: zr, body: resp.Body}, nil
}

func isGzip(url, contentType string) bool {
	u := strings.ToLower(url)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.HasSuffix(u, ".tar.gz") || strings.HasSuffix(u, ".tgz") ||
		strings.Contains(contentType, "gzip")
}

// gzipBody closes both the decompressor and the response body.
type gzipBody struct {
	*gzip.Reader
	body io.ReadCloser
}

func (g *gzipBody) Close() error {
	zerr := g.Reader.Close()
	if err := g.body.Close(); err != nil {
		return err
	}
	return zerr
}
