package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// A truncated GTFS zip is useless, so oversized bodies are an error.
var ErrTooLarge = errors.New("response exceeds max size")

// Non-200 response to a download.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Status)
}

type GetOptions struct {
	MaxSize  int
	Timeout  time.Duration
	Cache    bool
	CacheTTL time.Duration
}

// Fetches schedule archives, possibly from a cache.
type Downloader interface {
	Get(ctx context.Context, url string, headers map[string]string, options GetOptions) ([]byte, error)
}

// Uncached GET, shared by the Downloader implementations.
func HTTPGet(ctx context.Context, url string, headers map[string]string, options GetOptions) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	client := &http.Client{Timeout: options.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, Status: resp.StatusCode}
	}

	var body []byte
	if options.MaxSize > 0 {
		body, err = io.ReadAll(io.LimitReader(resp.Body, int64(options.MaxSize)+1))
		if err == nil && len(body) > options.MaxSize {
			return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, options.MaxSize)
		}
	} else {
		body, err = io.ReadAll(resp.Body)
	}
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	log.Debug().
		Str("url", url).
		Int("bytes", len(body)).
		Dur("elapsed", time.Since(start)).
		Msg("Downloaded")

	return body, nil
}
