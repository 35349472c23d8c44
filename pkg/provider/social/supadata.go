// Package social contains social-media search adapters.
package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/insightlabs/marketscope/pkg/config"
	"github.com/insightlabs/marketscope/pkg/provider"
)

const defaultSupadataEndpoint = "https://api.supadata.ai/v1/search"

// SupadataAdapter queries a Supadata-style social search API across
// platforms. There is no synthetic fallback here: a missing or failing
// provider is an explicit error, never fabricated data.
type SupadataAdapter struct {
	httpClient *http.Client
}

// NewSupadataAdapter creates the adapter.
func NewSupadataAdapter() *SupadataAdapter {
	return &SupadataAdapter{httpClient: &http.Client{}}
}

type supadataResponse struct {
	Results []struct {
		Title    string `json:"title"`
		URL      string `json:"url"`
		Text     string `json:"text"`
		Platform string `json:"platform"`
	} `json:"results"`
}

// Invoke implements provider.Adapter.
func (a *SupadataAdapter) Invoke(ctx context.Context, cred config.ProviderCredential, req provider.Request) (*provider.Response, error) {
	endpoint := cred.Endpoint
	if endpoint == "" {
		endpoint = defaultSupadataEndpoint
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	params := url.Values{}
	params.Set("q", req.Query)
	params.Set("limit", fmt.Sprint(limit))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, provider.NewCallError(cred.Name, provider.KindProtocol, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+cred.APIKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return nil, provider.NewCallError(cred.Name, provider.KindTimeout, err)
		case errors.Is(err, context.Canceled):
			return nil, provider.NewCallError(cred.Name, provider.KindCancelled, err)
		default:
			return nil, provider.NewCallError(cred.Name, provider.KindServerError, err)
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, provider.NewCallError(cred.Name, provider.KindRateLimited, fmt.Errorf("HTTP 429"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, provider.NewCallError(cred.Name, provider.KindAuth, fmt.Errorf("HTTP %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, provider.NewCallError(cred.Name, provider.KindServerError, fmt.Errorf("HTTP %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, provider.NewCallError(cred.Name, provider.KindProtocol, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, provider.NewCallError(cred.Name, provider.KindServerError, err)
	}

	var parsed supadataResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, provider.NewCallError(cred.Name, provider.KindServerError, fmt.Errorf("malformed response: %w", err))
	}

	results := make([]provider.SearchResult, 0, len(parsed.Results))
	for _, hit := range parsed.Results {
		results = append(results, provider.SearchResult{
			Title:   hit.Title,
			URL:     hit.URL,
			Snippet: hit.Text,
			Source:  hit.Platform,
		})
	}
	if len(results) == 0 {
		return nil, provider.NewCallError(cred.Name, provider.KindEmptyResponse, fmt.Errorf("no social results"))
	}
	return &provider.Response{Results: results}, nil
}
