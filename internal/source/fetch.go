package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrTooLarge is returned when a download or a decoded image exceeds the
	// configured limit.
	ErrTooLarge = errors.New("image exceeds maximum size")
	// ErrFetch wraps transport failures while downloading an image.
	ErrFetch = errors.New("failed to download image")
	// ErrNotRemote is returned for URLs that are not http(s).
	ErrNotRemote = errors.New("only http and https image URLs are supported")
)

// FetchError reports a non-2xx response while downloading an image.
type FetchError struct {
	URL        string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to download image %s: status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Fetcher downloads remote images.
type Fetcher struct {
	client   *resty.Client
	maxBytes int64
}

// NewFetcher creates a Fetcher. A zero timeout leaves requests bounded only by ctx.
func NewFetcher(timeout time.Duration, maxBytes int64, userAgent string) *Fetcher {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "image/*")
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	return &Fetcher{client: client, maxBytes: maxBytes}
}

// Fetch returns the body of rawURL, enforcing the size limit.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if rawURL == "" {
		return nil, ErrEmptyURL
	}
	if !IsRemote(rawURL) {
		return nil, fmt.Errorf("%w: %s", ErrNotRemote, rawURL)
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if !resp.IsSuccess() {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode()}
	}

	reader := io.Reader(body)
	if f.maxBytes > 0 {
		reader = io.LimitReader(body, f.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrFetch, err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrTooLarge, f.maxBytes)
	}

	return data, nil
}
