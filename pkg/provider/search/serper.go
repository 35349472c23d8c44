// Package search contains web-search provider adapters. Each adapter does
// one attempt against one engine; the dispatcher owns rotation.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/insightlabs/marketscope/pkg/config"
	"github.com/insightlabs/marketscope/pkg/provider"
)

const defaultSerperEndpoint = "https://google.serper.dev/search"

// SerperAdapter calls the Serper JSON search API.
type SerperAdapter struct {
	httpClient *http.Client
}

// NewSerperAdapter creates the adapter.
func NewSerperAdapter() *SerperAdapter {
	return &SerperAdapter{httpClient: &http.Client{}}
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Invoke implements provider.Adapter.
func (a *SerperAdapter) Invoke(ctx context.Context, cred config.ProviderCredential, req provider.Request) (*provider.Response, error) {
	endpoint := cred.Endpoint
	if endpoint == "" {
		endpoint = defaultSerperEndpoint
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	body, err := json.Marshal(map[string]any{"q": req.Query, "num": limit})
	if err != nil {
		return nil, provider.NewCallError(cred.Name, provider.KindProtocol, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, provider.NewCallError(cred.Name, provider.KindProtocol, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-KEY", cred.APIKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(cred.Name, err)
	}
	defer resp.Body.Close()

	if kind, bad := classifyStatus(resp.StatusCode); bad {
		return nil, provider.NewCallError(cred.Name, kind, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, provider.NewCallError(cred.Name, provider.KindServerError, err)
	}

	var parsed serperResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, provider.NewCallError(cred.Name, provider.KindServerError, fmt.Errorf("malformed response: %w", err))
	}

	results := make([]provider.SearchResult, 0, len(parsed.Organic))
	for _, hit := range parsed.Organic {
		if hit.Link == "" {
			continue
		}
		results = append(results, provider.SearchResult{
			Title:   hit.Title,
			URL:     hit.Link,
			Snippet: hit.Snippet,
			Source:  "serper",
		})
		if len(results) >= limit {
			break
		}
	}
	if len(results) == 0 {
		return nil, provider.NewCallError(cred.Name, provider.KindEmptyResponse, fmt.Errorf("no organic results"))
	}
	return &provider.Response{Results: results}, nil
}

func classifyStatus(status int) (provider.ErrorKind, bool) {
	switch {
	case status >= 200 && status < 300:
		return "", false
	case status == http.StatusTooManyRequests:
		return provider.KindRateLimited, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return provider.KindAuth, true
	case status >= 500:
		return provider.KindServerError, true
	default:
		return provider.KindProtocol, true
	}
}

func classifyTransport(name string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return provider.NewCallError(name, provider.KindTimeout, err)
	case errors.Is(err, context.Canceled):
		return provider.NewCallError(name, provider.KindCancelled, err)
	default:
		return provider.NewCallError(name, provider.KindServerError, err)
	}
}
