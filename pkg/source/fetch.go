package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Fetcher opens a remote image as a stream. size is -1 when the server did
// not report a content length.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (body io.ReadCloser, size int64, err error)
}

// HTTPFetcher issues plain GET requests.
type HTTPFetcher struct {
	Client *http.Client
}

func (h *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, -1, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, -1, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, -1, fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	return resp.Body, resp.ContentLength, nil
}
