package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const extractUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// ReaderStrategy calls a reader-service API (r.jina.ai style): the target
// URL is appended to the service prefix and the service returns cleaned
// text/markdown.
type ReaderStrategy struct {
	prefix     string
	apiKey     string
	httpClient *http.Client
}

// NewReaderStrategy creates the strategy. prefix must end with a slash.
func NewReaderStrategy(prefix, apiKey string) *ReaderStrategy {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &ReaderStrategy{
		prefix:     prefix,
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

func (s *ReaderStrategy) Name() string { return "reader" }

// Extract implements Strategy.
func (s *ReaderStrategy) Extract(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.prefix+url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/plain")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reader service: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}
