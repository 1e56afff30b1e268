package whatsapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultMaxMediaBytes = 64 << 20

// MediaFetcher downloads remote media before it is sent.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) (data []byte, mimeType string, err error)
}

type HTTPMediaFetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPMediaFetcher(timeout time.Duration) *HTTPMediaFetcher {
	return &HTTPMediaFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: defaultMaxMediaBytes,
	}
}

func (f *HTTPMediaFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("media fetch error: %s - %s", resp.Status, string(snippet))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", fmt.Errorf("media larger than %d bytes", f.maxBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty media body")
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}
