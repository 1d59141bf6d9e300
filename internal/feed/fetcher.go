// Package feed downloads remote address lists.
package feed

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"grimm.is/setguard/internal/brand"
	"grimm.is/setguard/internal/errors"
)

// Options configures a Fetcher.
type Options struct {
	Timeout  time.Duration
	MaxBytes int64
	// Client overrides the HTTP client. Its Timeout is left untouched.
	Client *http.Client
}

// Fetcher performs single-attempt downloads. It never retries; the next
// scheduled invocation is the retry.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Fetcher{client: client, maxBytes: opts.MaxBytes}
}

// Fetch GETs url with gzip negotiated and returns the complete decoded body.
// Transport failures, non-2xx statuses, undecodable bodies and bodies larger
// than MaxBytes are all KindTransport errors; nothing partial is returned.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindTransport, "invalid feed request %s", url)
	}
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("User-Agent", brand.UserAgent(brand.Version))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindTransport, "failed to download %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Attr(errors.Errorf(errors.KindTransport, "failed to download %s: status %d", url, resp.StatusCode), "status", resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") || strings.HasSuffix(url, ".gz") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindTransport, "failed to create gzip reader")
		}
		defer gz.Close()
		reader = gz
	}

	if f.maxBytes > 0 {
		reader = io.LimitReader(reader, f.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindTransport, "failed to read feed %s", url)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, errors.Errorf(errors.KindTransport, "feed %s exceeds %s", url, byteSize(f.maxBytes))
	}
	return data, nil
}

func byteSize(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%d MiB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%d KiB", n>>10)
	}
	return fmt.Sprintf("%d bytes", n)
}
