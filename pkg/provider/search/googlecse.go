package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/insightlabs/marketscope/pkg/config"
	"github.com/insightlabs/marketscope/pkg/provider"
)

const defaultCSEEndpoint = "https://www.googleapis.com/customsearch/v1"

// GoogleCSEAdapter calls the Google Custom Search JSON API. The credential's
// Model field carries the search engine ID (cx), so multiple rotating keys
// can share or split engines.
type GoogleCSEAdapter struct {
	httpClient *http.Client
}

// NewGoogleCSEAdapter creates the adapter.
func NewGoogleCSEAdapter() *GoogleCSEAdapter {
	return &GoogleCSEAdapter{httpClient: &http.Client{}}
}

type cseResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// Invoke implements provider.Adapter.
func (a *GoogleCSEAdapter) Invoke(ctx context.Context, cred config.ProviderCredential, req provider.Request) (*provider.Response, error) {
	endpoint := cred.Endpoint
	if endpoint == "" {
		endpoint = defaultCSEEndpoint
	}
	if cred.Model == "" {
		return nil, provider.NewCallError(cred.Name, provider.KindProtocol, fmt.Errorf("google_cse credential has no engine id"))
	}

	limit := req.Limit
	if limit <= 0 || limit > 10 {
		limit = 10
	}

	params := url.Values{}
	params.Set("key", cred.APIKey)
	params.Set("cx", cred.Model)
	params.Set("q", req.Query)
	params.Set("num", fmt.Sprint(limit))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, provider.NewCallError(cred.Name, provider.KindProtocol, err)
	}

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

	var parsed cseResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, provider.NewCallError(cred.Name, provider.KindServerError, fmt.Errorf("malformed response: %w", err))
	}

	results := make([]provider.SearchResult, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item.Link == "" {
			continue
		}
		results = append(results, provider.SearchResult{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
			Source:  "google_cse",
		})
	}
	if len(results) == 0 {
		return nil, provider.NewCallError(cred.Name, provider.KindEmptyResponse, fmt.Errorf("no items"))
	}
	return &provider.Response{Results: results}, nil
}
